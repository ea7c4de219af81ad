package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"imaged/internal/service"
	"imaged/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && zlog != nil {
		zlog.Warn().Err(err).Msg("encode response")
	}
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg, Code: status})
}

// writeError maps err to a status code: typed errors carry their own, field
// validation failures list every field, anything else is a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, ve.StatusCode(), types.ErrorResponse{Error: "invalid input", Code: ve.StatusCode(), Fields: ve.Fields})
		return
	}
	var he HTTPError
	if errors.As(err, &he) {
		writeJSONError(w, he.StatusCode(), err.Error())
		return
	}
	if zlog != nil {
		zlog.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
	}
	writeJSONError(w, http.StatusInternalServerError, err.Error())
}
