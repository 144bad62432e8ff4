// Package store defines the run registry: the source of truth for run
// lifecycle state between the dispatch call and the later completion
// callback. Implementations must enforce the forward-only transition
// rules atomically so that concurrent transitions on the same run
// cannot violate them.
package store

import (
	"context"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/google/uuid"
)

// Transition describes a requested status change for a run. Result and
// Failure are mutually exclusive and only meaningful for terminal
// statuses; ProviderRunID, AttemptCount and UsedFallback are recorded
// when the run enters running (or fails during dispatch).
type Transition struct {
	Status  domain.RunStatus
	Result  *domain.RunResult
	Failure *domain.RunFailure

	// ProviderRunID, when non-empty, is stored on the run.
	ProviderRunID string

	// AttemptCount, when positive, is stored on the run.
	AttemptCount int

	// UsedFallback marks the run as dispatched through the fallback path.
	UsedFallback bool
}

// RunStore is the registry of runs keyed by their local IDs.
//
// TransitionRun must be idempotent for a repeated transition to the
// same terminal status (at-least-once callback delivery): the repeat
// succeeds with applied=false and leaves the stored run untouched. A
// transition to a different terminal status than the one already
// recorded fails with ErrInvalidTransition.
type RunStore interface {
	// CreateRun adds a new run to the registry.
	// Returns ErrDuplicateRun if the run's ID already exists.
	CreateRun(ctx context.Context, run *domain.Run) error

	// GetRun returns the run with the given ID.
	// Returns ErrRunNotFound if no such run exists.
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)

	// TransitionRun applies tr to the run with the given ID, enforcing
	// the forward-only rules atomically. It returns the run as stored
	// after the call and whether the transition was newly applied
	// (false for an idempotent terminal repeat).
	TransitionRun(ctx context.Context, id uuid.UUID, tr Transition) (*domain.Run, bool, error)

	// FindActiveRunByTicket returns the most recently created
	// non-terminal run for the given ticket key.
	// Returns ErrRunNotFound when the ticket has no active run.
	FindActiveRunByTicket(ctx context.Context, ticketKey string) (*domain.Run, error)

	// ListRunsInStatus returns runs currently in the given status whose
	// last update is older than olderThan (zero means all of them).
	ListRunsInStatus(ctx context.Context, status domain.RunStatus, olderThan time.Duration) ([]*domain.Run, error)
}

// ValidateTransition checks tr against the run's current status and
// reports whether applying it would be a new transition (true), an
// idempotent terminal repeat (false), or illegal (ErrInvalidTransition).
// Shared by registry implementations so they agree on the rules.
func ValidateTransition(current domain.RunStatus, tr Transition) (bool, error) {
	if current == tr.Status {
		if current.IsTerminal() {
			// Duplicate delivery of the same terminal outcome.
			return false, nil
		}
		return false, ErrInvalidTransition
	}

	if !current.CanTransitionTo(tr.Status) {
		return false, ErrInvalidTransition
	}

	return true, nil
}
