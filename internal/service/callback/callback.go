// Package callback implements the completion handler: it receives a
// provider's terminal report for a run, applies the transition to the
// registry, and delivers the outcome downstream exactly once. Delivery
// is keyed on the transition actually being applied, which is what
// makes duplicate callbacks safe.
package callback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/events"
	"github.com/antoleandarius/copilot-fix-bridge/internal/metrics"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
	"github.com/google/uuid"
)

// Errors the HTTP layer maps to response codes.
var (
	// ErrUnknownRun means the reported run was never registered here.
	ErrUnknownRun = errors.New("unknown run")

	// ErrInvalidTransition means the reported status conflicts with
	// the run's recorded lifecycle.
	ErrInvalidTransition = errors.New("invalid run transition")

	// ErrNotifyFailed means the transition was applied but the result
	// could not be delivered downstream. The registry is not rolled
	// back; the caller may retry delivery out of band.
	ErrNotifyFailed = errors.New("result notification failed")
)

// Completion is a provider's terminal report for a run.
type Completion struct {
	Status       domain.RunStatus
	PRURL        string
	PRNumber     int
	Branch       string
	CommitSHA    string
	Summary      string
	Files        []string
	ErrorMessage string
	Source       string
}

// Service applies completion reports to the registry and notifies.
type Service struct {
	runs    store.RunStore
	emitter events.EventEmitter
	logger  *slog.Logger
}

// NewService creates a callback service.
func NewService(runs store.RunStore, emitter events.EventEmitter, logger *slog.Logger) (*Service, error) {
	if runs == nil {
		return nil, errors.New("callback: run store is required")
	}
	if emitter == nil {
		return nil, errors.New("callback: event emitter is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		runs:    runs,
		emitter: emitter,
		logger:  logger.With("component", "callback_service"),
	}, nil
}

// HandleCompletion applies the reported outcome to the run. Duplicate
// deliveries of the same outcome succeed without a second notification.
func (s *Service) HandleCompletion(ctx context.Context, runID uuid.UUID, c Completion) (*domain.Run, error) {
	if !c.Status.IsTerminal() {
		metrics.CallbackTotal.WithLabelValues("invalid_transition").Inc()
		return nil, fmt.Errorf("%w: reported status %q is not terminal", ErrInvalidTransition, c.Status)
	}

	tr := store.Transition{Status: c.Status}
	switch c.Status {
	case domain.RunStatusCompleted:
		tr.Result = &domain.RunResult{
			PRURL:     c.PRURL,
			PRNumber:  c.PRNumber,
			Branch:    c.Branch,
			CommitSHA: c.CommitSHA,
			Summary:   c.Summary,
			Files:     c.Files,
		}
	case domain.RunStatusFailed:
		source := c.Source
		if source == "" {
			source = "agent"
		}
		tr.Failure = &domain.RunFailure{Message: c.ErrorMessage, Source: source}
	}

	run, applied, err := s.runs.TransitionRun(ctx, runID, tr)
	switch {
	case errors.Is(err, store.ErrRunNotFound):
		metrics.CallbackTotal.WithLabelValues("unknown_run").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	case errors.Is(err, store.ErrInvalidTransition):
		metrics.CallbackTotal.WithLabelValues("invalid_transition").Inc()
		return nil, fmt.Errorf("%w: run %s is %s, reported %s",
			ErrInvalidTransition, runID, runStatusForError(ctx, s.runs, runID), c.Status)
	case err != nil:
		return nil, fmt.Errorf("failed to apply completion: %w", err)
	}

	if !applied {
		metrics.CallbackTotal.WithLabelValues("duplicate").Inc()
		s.logger.InfoContext(ctx, "duplicate completion ignored",
			"run_id", runID,
			"status", string(c.Status))
		return run, nil
	}

	s.logger.InfoContext(ctx, "run completed",
		"run_id", runID,
		"ticket_key", run.TicketKey,
		"status", string(c.Status))

	if err := s.emitter.EmitEvent(ctx, events.NewRunResultEvent(run)); err != nil {
		metrics.CallbackTotal.WithLabelValues("notify_failed").Inc()
		return run, fmt.Errorf("%w: %v", ErrNotifyFailed, err)
	}

	metrics.CallbackTotal.WithLabelValues("applied").Inc()
	return run, nil
}

// runStatusForError fetches the run's current status for an error
// message; failures degrade to "unknown".
func runStatusForError(ctx context.Context, runs store.RunStore, runID uuid.UUID) string {
	run, err := runs.GetRun(ctx, runID)
	if err != nil {
		return "unknown"
	}
	return string(run.Status)
}
