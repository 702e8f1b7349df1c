package httptransport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/omkar-codehub/sar-marine-backend/internal/service"
)

// apiError is the body of every non-2xx response. RequestID lets a client
// quote the request when reporting a 500.
type apiError struct {
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

const internalErrorBody = `{"message":"internal error"}`

// writeJSON encodes before touching the status line, so an unencodable value
// becomes a clean 500 instead of a half-written 200.
// Статусы job меняются: Cache-Control no-store.
func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		code, body = http.StatusInternalServerError, []byte(internalErrorBody)
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_, _ = w.Write(append(body, '\n'))
}

func writeErr(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, code, apiError{Message: msg, RequestID: requestID(r)})
}

// writeServiceError maps service errors to status codes. Internal details are
// logged, never returned.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeErr(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnknownJob):
		writeErr(w, r, http.StatusNotFound, "job not found")
	default:
		logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "req_id", requestID(r), "error", err)
		writeErr(w, r, http.StatusInternalServerError, "internal error")
	}
}
