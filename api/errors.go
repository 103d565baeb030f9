package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/ironkeep/auth"
	"github.com/jmcleod/ironkeep/crypto"
)

// Client-facing messages. They never carry internal detail.
const (
	msgInvalidCredentials = "invalid credentials"
	msgUnauthenticated    = "authentication failed"
	msgOperationFailed    = "operation failed"
	msgTooManyAttempts    = "too many login attempts; try again later"
	msgBadRequest         = "invalid request body"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageResponse{Message: msg})
}

// mapError writes the generic response for err and logs the detail.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, msgInvalidCredentials)
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, msgUnauthenticated)
	case errors.Is(err, crypto.ErrDecryption):
		writeError(w, http.StatusBadRequest, msgOperationFailed)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		a.logger.WarnContext(r.Context(), "request abandoned",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusServiceUnavailable, msgOperationFailed)
	default:
		a.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, msgOperationFailed)
	}
}
