package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"attendance.edge/internal/core"
	"attendance.edge/internal/core/model"
	"github.com/gorilla/mux"
)

const maxPushSize = 64 << 10

// Syncer runs sync passes on demand.
type Syncer interface {
	Tag() string
	HandleSync(ctx context.Context, tag string) (*model.SyncReport, error)
}

// Notifications is the notification dispatcher as the API sees it.
type Notifications interface {
	HandlePush(ctx context.Context, raw []byte) model.Notification
	HandleClick(ctx context.Context, tag string) error
	List() []model.Notification
}

// EventHandler accepts sync triggers, pushes and notification clicks over HTTP.
type EventHandler struct {
	Sync          Syncer
	Notifications Notifications
}

type SyncRequest struct {
	Tag string `json:"tag"`
}

type ignoredResponse struct {
	Status string `json:"status"`
	Tag    string `json:"tag"`
}

func (h *EventHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Tag == "" {
		req.Tag = h.Sync.Tag()
	}

	report, err := h.Sync.HandleSync(r.Context(), req.Tag)
	if errors.Is(err, core.ErrUnknownSyncTag) {
		writeJSON(w, http.StatusAccepted, ignoredResponse{Status: "ignored", Tag: req.Tag})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Push takes the raw push payload; malformed bodies fall back to the default notification.
func (h *EventHandler) Push(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPushSize))
	if err != nil {
		http.Error(w, "Could not read body", http.StatusBadRequest)
		return
	}
	n := h.Notifications.HandlePush(r.Context(), raw)
	writeJSON(w, http.StatusCreated, n)
}

func (h *EventHandler) Click(w http.ResponseWriter, r *http.Request) {
	if err := h.Notifications.HandleClick(r.Context(), mux.Vars(r)["tag"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *EventHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Notifications.List())
}
