package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"tally/internal/core"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps the error kind to a status code. Storage errors hide the
// driver detail from the client; everything else passes its message through.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status int
		kind   string
		msg    = err.Error()
	)
	switch {
	case core.IsValidation(err):
		status, kind = http.StatusUnprocessableEntity, "validation"
	case core.IsNotFound(err):
		status, kind = http.StatusNotFound, "not_found"
	case core.IsConflict(err):
		status, kind = http.StatusConflict, "conflict"
		w.Header().Set("Retry-After", "1")
	case core.IsStorage(err):
		status, kind = http.StatusServiceUnavailable, "storage"
		msg = "storage unavailable"
	default:
		status, kind = http.StatusInternalServerError, "internal"
		msg = "internal error"
	}

	if status >= 500 {
		slog.ErrorContext(r.Context(), "Request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}
