package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"attendance.edge/internal/core"
	"attendance.edge/internal/ports/erp"
	"attendance.edge/internal/ports/repository"
	"github.com/rs/zerolog/log"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var apiErr *erp.APIError
	switch {
	case errors.Is(err, core.ErrInvalidCheckin):
		status = http.StatusBadRequest
	case errors.Is(err, erp.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, erp.ErrCircuitOpen), errors.Is(err, repository.ErrStorageUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		if apiErr.Status >= 400 && apiErr.Status < 500 {
			status = apiErr.Status
		}
	}

	if status >= 500 {
		log.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
