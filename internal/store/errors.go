package store

import "errors"

// Common store errors used across all registry implementations.
var (
	// ErrRunNotFound is returned when a requested run does not exist
	// in the registry.
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateRun is returned when creating a run whose ID already
	// exists in the registry.
	ErrDuplicateRun = errors.New("run already exists")

	// ErrInvalidTransition is returned when a requested status change
	// is not a legal forward transition, including any attempt to move
	// a terminal run to a different terminal status.
	ErrInvalidTransition = errors.New("invalid run status transition")
)
