package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"momentum/internal/core"
	"momentum/internal/services"
	"momentum/internal/storage"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed encoding response", "error", err)
	}
}

// writeError maps a service or storage error onto a status code and a
// JSON error body. Reconciliation failures never leak internals; the
// client gets a retryable generic message while the details are logged.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var recErr *services.ReconciliationError
	switch {
	case errors.Is(err, errMissingAccount), errors.Is(err, errBadID), errors.Is(err, errBadBody):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, errNoAmount):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case core.IsValidationError(err):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, storage.ErrGoalInUse):
		writeJSON(w, http.StatusConflict, errorBody{Error: "goal has linked transactions"})
	case errors.As(err, &recErr):
		slog.ErrorContext(r.Context(), "Reconciliation failed",
			"op", recErr.Op,
			"error", recErr.Err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not complete transaction, please retry"})
	default:
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"url", r.URL.Path,
			"error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
}
