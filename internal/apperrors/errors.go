package apperrors

import (
	"errors"
	"net/http"
)

// The four failure classes every service in this repo reports.
// Services wrap these with context via fmt.Errorf("...: %w", Err*),
// handlers match with errors.Is and map to HTTP statuses.
var (
	ErrValidation   = errors.New("validation failed")
	ErrInvalidState = errors.New("invalid state")
	ErrPermission   = errors.New("permission denied")
	ErrNotFound     = errors.New("not found")
)

// HTTPStatus maps a service error to the status code its class carries.
// Unknown errors are internal.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
