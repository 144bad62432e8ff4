package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of an agent run
type RunStatus string

// Possible run status values
const (
	RunStatusCreated   RunStatus = "created"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the status is final and no further
// transitions are allowed.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward transition. Runs only move forward along
// created -> running -> {completed|failed|cancelled}; a run may also fail
// or be cancelled straight from created (dispatch never reached the
// remote provider).
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	if s.IsTerminal() {
		return false
	}

	switch s {
	case RunStatusCreated:
		return next == RunStatusRunning || next.IsTerminal()
	case RunStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// RunResult holds the artifact produced by a successfully completed run.
// It is only ever set at the terminal transition to completed.
type RunResult struct {
	PRURL     string   `json:"pr_url"`
	PRNumber  int      `json:"pr_number,omitempty"`
	Branch    string   `json:"branch,omitempty"`
	CommitSHA string   `json:"commit_sha,omitempty"`
	Summary   string   `json:"summary,omitempty"`
	Files     []string `json:"files,omitempty"`
}

// RunFailure holds the structured failure reason for a failed run.
// It is only ever set at the terminal transition to failed.
type RunFailure struct {
	Message string `json:"message"`
	// Source identifies which leg produced the failure: "primary",
	// "fallback", "dispatch" (both legs failed) or "agent" (reported
	// by the remote provider in the callback).
	Source string `json:"source,omitempty"`
}

// Run represents one instance of a dispatched remote fix task.
// It tracks the lifecycle across the two independent request/response
// legs: the dispatch call that creates it and the asynchronous callback
// that later reports its terminal outcome.
type Run struct {
	// ID is the registry's own identifier for the run, generated
	// locally at dispatch time and immutable thereafter. The remote
	// provider echoes it back in the completion callback.
	ID uuid.UUID `json:"id"`

	// TicketKey is the identifier of the originating issue-tracker
	// ticket (e.g. "PROJ-123"). Several runs may reference the same
	// ticket if it is retried, but each run has exactly one.
	TicketKey string `json:"ticket_key"`

	// Status is the current lifecycle state. Transitions are forward-only.
	Status RunStatus `json:"status"`

	// ProviderRunID is the remote provider's identifier for the run,
	// used for status polling and cancellation. Empty for runs
	// dispatched through the fallback path.
	ProviderRunID string `json:"provider_run_id,omitempty"`

	// AttemptCount is the number of remote creation attempts made
	// before the run entered running (or failed).
	AttemptCount int `json:"attempt_count"`

	// UsedFallback indicates the run was created through the fallback
	// execution path after the primary path was unavailable.
	UsedFallback bool `json:"used_fallback"`

	// Result is populated only when Status is completed.
	Result *RunResult `json:"result,omitempty"`

	// Failure is populated only when Status is failed. Result and
	// Failure are mutually exclusive.
	Failure *RunFailure `json:"failure,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRun creates a new Run for the given ticket key in the created state.
// It generates a new UUID for the run ID and sets the timestamps.
// Returns an error if validation fails.
func NewRun(ticketKey string) (*Run, error) {
	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.New(),
		TicketKey: ticketKey,
		Status:    RunStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := run.Validate(); err != nil {
		return nil, err
	}

	return run, nil
}

// Validate checks if the Run has valid data.
// Returns an error if any field fails validation.
func (r *Run) Validate() error {
	if r.ID == uuid.Nil {
		return ErrEmptyRunID
	}

	if r.TicketKey == "" {
		return ErrEmptyTicketKey
	}

	if !isValidRunStatus(r.Status) {
		return ErrInvalidRunStatus
	}

	if r.Result != nil && r.Status != RunStatusCompleted {
		return ErrResultWithoutCompletion
	}

	if r.Failure != nil && r.Status != RunStatusFailed {
		return ErrFailureWithoutFailedStatus
	}

	return nil
}

// IsFinished returns true when the run has reached a terminal status.
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// isValidRunStatus checks if the given status is a valid RunStatus.
func isValidRunStatus(status RunStatus) bool {
	switch status {
	case RunStatusCreated, RunStatusRunning, RunStatusCompleted,
		RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// ParseRunStatus converts a string into a RunStatus.
// Returns ErrInvalidRunStatus for unknown values.
func ParseRunStatus(s string) (RunStatus, error) {
	status := RunStatus(s)
	if !isValidRunStatus(status) {
		return "", ErrInvalidRunStatus
	}
	return status, nil
}
