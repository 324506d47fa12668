package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"attendance.edge/internal/core/model"
	"github.com/gorilla/mux"
)

// CheckinService is what the check-in endpoints need from the core.
type CheckinService interface {
	Submit(ctx context.Context, req model.CheckinRequest) (*model.SubmitResult, error)
	Pending(ctx context.Context, hod string) ([]model.Checkin, error)
	Decide(ctx context.Context, name string, status model.CheckinStatus, remarks string) (*model.Checkin, error)
	Discard(ctx context.Context, name string) error
	History(ctx context.Context, employee string) ([]model.Checkin, error)
	Employee(ctx context.Context, userID string) (*model.EmployeeProfile, error)
}

type CheckInHandler struct {
	Service CheckinService
}

type DecisionRequest struct {
	Status          model.CheckinStatus `json:"status"`
	ApproverRemarks string              `json:"approver_remarks"`
}

func (h *CheckInHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req model.CheckinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	res, err := h.Service.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Outcome == model.OutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (h *CheckInHandler) Pending(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.Pending(r.Context(), r.URL.Query().Get("hod"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *CheckInHandler) History(w http.ResponseWriter, r *http.Request) {
	employee := r.URL.Query().Get("employee")
	if employee == "" {
		http.Error(w, "employee is required", http.StatusBadRequest)
		return
	}
	list, err := h.Service.History(r.Context(), employee)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *CheckInHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.Service.Decide(r.Context(), mux.Vars(r)["name"], req.Status, req.ApproverRemarks)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *CheckInHandler) Discard(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Discard(r.Context(), mux.Vars(r)["name"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckInHandler) Employee(w http.ResponseWriter, r *http.Request) {
	profile, err := h.Service.Employee(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
