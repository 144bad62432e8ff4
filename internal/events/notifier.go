package events

import (
	"context"
	"log/slog"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
)

// ResultNotifier delivers a terminal run outcome to an external system.
// The JIRA client implements it by posting a ticket comment.
type ResultNotifier interface {
	PostRunResult(ctx context.Context, run *domain.Run) error
}

// NotifierHandler adapts a ResultNotifier into an EventHandler so run
// outcomes flow through the emitter like any other subscriber.
type NotifierHandler struct {
	notifier ResultNotifier
	logger   *slog.Logger
}

// NewNotifierHandler creates a handler delivering run results through
// the given notifier.
func NewNotifierHandler(notifier ResultNotifier, logger *slog.Logger) *NotifierHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifierHandler{
		notifier: notifier,
		logger:   logger.With("component", "notifier_handler"),
	}
}

// HandleEvent delivers the run outcome.
func (h *NotifierHandler) HandleEvent(ctx context.Context, event *RunResultEvent) error {
	h.logger.Debug("delivering run result",
		"run_id", event.Run.ID,
		"ticket_key", event.Run.TicketKey,
		"run_status", string(event.Run.Status))

	return h.notifier.PostRunResult(ctx, event.Run)
}

var _ EventHandler = (*NotifierHandler)(nil)
