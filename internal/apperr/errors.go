// Package apperr defines the error taxonomy shared by the auth core and the
// HTTP boundary. Core components return *AppError values; handlers map them to
// a status code and a user-safe message without inspecting the cause.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrInternal     = errors.New("internal error")
)

// AppError is a typed failure with its HTTP mapping attached.
type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// UnauthorizedMessage is the only message a 401 ever carries.
const UnauthorizedMessage = "could not validate credentials"

// Unauthorized carries no cause-specific text so callers cannot tell a bad
// password from an unknown phone, an expired token or a deleted account.
func Unauthorized() *AppError {
	return &AppError{Code: "UNAUTHORIZED", Message: UnauthorizedMessage, Status: http.StatusUnauthorized, Err: ErrUnauthorized}
}

func Forbidden(message string) *AppError {
	return &AppError{Code: "FORBIDDEN", Message: message, Status: http.StatusForbidden, Err: ErrForbidden}
}

// Conflict answers 400 on the wire: duplicate phone and last-admin
// violations are reported as bad requests by the public API.
func Conflict(message string) *AppError {
	return &AppError{Code: "CONFLICT", Message: message, Status: http.StatusBadRequest, Err: ErrConflict}
}

func BadRequest(message string) *AppError {
	return &AppError{Code: "BAD_REQUEST", Message: message, Status: http.StatusBadRequest, Err: ErrBadRequest}
}

func NotFound(message string) *AppError {
	return &AppError{Code: "NOT_FOUND", Message: message, Status: http.StatusNotFound, Err: ErrNotFound}
}

func RateLimited(message string) *AppError {
	return &AppError{Code: "RATE_LIMITED", Message: message, Status: http.StatusTooManyRequests, Err: ErrRateLimited}
}

// Internal hides err from the client; it is kept for logging only.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     fmt.Errorf("%w: %v", ErrInternal, err),
	}
}

// HTTPStatus returns the status code for err, 500 for anything untyped.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
