// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common validation errors for Run
var (
	// ErrEmptyRunID is returned when a run has no identifier.
	ErrEmptyRunID = errors.New("run ID cannot be empty")

	// ErrEmptyTicketKey is returned when a run has no originating ticket key.
	ErrEmptyTicketKey = errors.New("ticket key cannot be empty")

	// ErrInvalidRunStatus is returned when a run status is not valid.
	ErrInvalidRunStatus = errors.New("invalid run status")

	// ErrResultWithoutCompletion is returned when a result payload is
	// attached to a run that is not in the completed state.
	ErrResultWithoutCompletion = errors.New("result is only valid on a completed run")

	// ErrFailureWithoutFailedStatus is returned when a failure payload is
	// attached to a run that is not in the failed state.
	ErrFailureWithoutFailedStatus = errors.New("failure is only valid on a failed run")
)
