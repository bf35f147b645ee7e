package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/code-room/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// ToHTTP maps domain errors to status codes.
func ToHTTP(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrAuditDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, domain.ErrAssistUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrAssistUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("http.write json failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, ToHTTP(err), ErrorResponse{Error: err.Error()})
}
