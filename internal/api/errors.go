package api

import (
	"errors"
	"net/http"

	"github.com/antoleandarius/copilot-fix-bridge/internal/service/callback"
	"github.com/antoleandarius/copilot-fix-bridge/internal/service/dispatch"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, callback.ErrUnknownRun),
		errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, callback.ErrInvalidTransition),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrDuplicateRun):
		return http.StatusConflict

	// Upstream failures
	case errors.Is(err, dispatch.ErrDispatchFailed),
		errors.Is(err, callback.ErrNotifyFailed):
		return http.StatusBadGateway

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, callback.ErrUnknownRun),
		errors.Is(err, store.ErrRunNotFound):
		return "Run not found"

	case errors.Is(err, callback.ErrInvalidTransition),
		errors.Is(err, store.ErrInvalidTransition):
		return "Reported status conflicts with the run's recorded lifecycle"

	case errors.Is(err, store.ErrDuplicateRun):
		return "Run already registered"

	case errors.Is(err, dispatch.ErrDispatchFailed):
		return "Dispatch failed on all execution paths"

	case errors.Is(err, callback.ErrNotifyFailed):
		return "Run recorded but result notification failed"

	default:
		return "An unexpected error occurred"
	}
}
