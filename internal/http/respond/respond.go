// Package respond writes JSON responses and maps errors to status codes.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/phoneauth/server/internal/apperr"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes v with the given status
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// Message writes {"error": message, "code": code}
func Message(w http.ResponseWriter, status int, code, message string) {
	JSON(w, status, errorResponse{Error: message, Code: code})
}

// Error maps err to its response. Untyped errors and internal errors are
// logged with the request logger and answered with a generic message.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) {
		appErr = apperr.Internal(err)
	}
	if appErr.Status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	Message(w, appErr.Status, appErr.Code, appErr.Message)
}
