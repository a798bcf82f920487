package api

import (
	"errors"
	"net/http"

	"github.com/taskpulse/taskpulse/internal/domain"
	"github.com/taskpulse/taskpulse/internal/scheduler"
	"github.com/taskpulse/taskpulse/internal/store"
)

// MapErrorToStatusCode translates service and store errors into HTTP status
// codes. Unknown errors map to 500.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns an error message safe to expose to clients.
// Validation errors keep their detail; everything else is generalized so
// internals never leak through the API boundary.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"
	case errors.Is(err, store.ErrReminderNotFound):
		return "Reminder not found"
	case errors.Is(err, store.ErrNotFound):
		return "Resource not found"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return err.Error()
	case errors.Is(err, scheduler.ErrInvalidSchedule):
		return "Reminder time is already in the past"
	case errors.Is(err, store.ErrDuplicate):
		return "Resource already exists"
	default:
		return "An internal error occurred"
	}
}
