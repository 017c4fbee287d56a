package api

import (
	"encoding/json"
	"net/http"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// Envelope is the body of every API response.
type Envelope struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respond(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, Envelope{Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Envelope{Message: message, Code: code})
}

func statusFor(kind scheduling.ErrorKind) int {
	switch kind {
	// a failed precondition is reported like bad input; the message says which
	case scheduling.KindValidation, scheduling.KindConflict:
		return http.StatusBadRequest
	case scheduling.KindForbidden:
		return http.StatusForbidden
	case scheduling.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders an orchestrator error. Transaction failures keep
// their cause out of the response.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	se := scheduling.AsError(err)
	status := statusFor(se.Kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "path", r.URL.Path, "request_id", GetRequestID(r.Context()), "error", err)
	}
	writeError(w, status, se.Code, se.Message)
}
