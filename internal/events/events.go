package events

import (
	"context"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/google/uuid"
)

// RunResultEvent announces that a run reached a terminal state. It
// carries a snapshot of the run so handlers never read shared state;
// the run a handler sees is the run as it was when the transition was
// applied.
type RunResultEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Run is the terminal run snapshot
	Run *domain.Run `json:"run"`

	// OccurredAt is the timestamp when the event was created
	OccurredAt time.Time `json:"occurred_at"`
}

// NewRunResultEvent creates a RunResultEvent for the given run snapshot.
func NewRunResultEvent(run *domain.Run) *RunResultEvent {
	return &RunResultEvent{
		ID:         uuid.New(),
		Run:        run,
		OccurredAt: time.Now().UTC(),
	}
}

// EventHandler defines an interface for components that can handle events.
// Handlers are responsible for processing events and taking appropriate actions.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleEvent(ctx context.Context, event *RunResultEvent) error
}

// EventEmitter defines an interface for components that can emit events.
// This allows services to publish events without direct knowledge of handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	EmitEvent(ctx context.Context, event *RunResultEvent) error
}
