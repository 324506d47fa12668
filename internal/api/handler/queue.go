package handler

import (
	"net/http"
	"strconv"

	"attendance.edge/internal/core/model"
	"attendance.edge/internal/ports/repository"
	"github.com/gorilla/mux"
)

// QueueHandler exposes the offline queue for inspection.
type QueueHandler struct {
	Store repository.QueueStore
	// Dead is optional; without it the dead-letter listing is empty.
	Dead repository.DeadLetterStore
}

func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.ListAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.QueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *QueueHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "id must be an integer", http.StatusBadRequest)
		return
	}
	if err := h.Store.Remove(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *QueueHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.Dead == nil {
		writeJSON(w, http.StatusOK, []model.DeadLetter{})
		return
	}
	dead, err := h.Dead.ListDeadLetters(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if dead == nil {
		dead = []model.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, dead)
}
