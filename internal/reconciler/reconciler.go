// Package reconciler runs the background sweep that keeps the run
// registry honest when callbacks go missing: RUNNING runs that have
// been quiet too long are polled at the provider, and CREATED runs
// whose dispatch never concluded are failed as interrupted.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/metrics"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
	"github.com/antoleandarius/copilot-fix-bridge/internal/service/callback"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
)

// Config controls the sweep cadence and staleness windows.
type Config struct {
	// Interval is how often the reconciler sweeps. If zero, defaults
	// to 30 seconds.
	Interval time.Duration

	// StuckRunAge is how long a RUNNING run may go without an update
	// before its provider is polled.
	StuckRunAge time.Duration

	// DispatchDeadline is how long a CREATED run may exist before it
	// is considered an interrupted dispatch and failed.
	DispatchDeadline time.Duration
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Interval:         30 * time.Second,
		StuckRunAge:      10 * time.Minute,
		DispatchDeadline: 2 * time.Minute,
	}
}

// Reconciler periodically repairs stale registry state.
type Reconciler struct {
	runs       store.RunStore
	checker    remote.StatusChecker
	completion *callback.Service
	config     Config
	logger     *slog.Logger

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New creates a Reconciler. The checker may be nil; stale RUNNING runs
// without a pollable provider are then left alone.
func New(runs store.RunStore, checker remote.StatusChecker, completion *callback.Service, config Config, logger *slog.Logger) *Reconciler {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reconciler{
		runs:       runs,
		checker:    checker,
		completion: completion,
		config:     config,
		logger:     logger.With("component", "reconciler"),
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Start launches the sweep loop.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("reconciler started",
		"interval", r.config.Interval,
		"stuck_run_age", r.config.StuckRunAge,
		"dispatch_deadline", r.config.DispatchDeadline)
}

// Stop gracefully shuts down the sweep loop.
func (r *Reconciler) Stop() {
	r.cancelFunc()
	r.wg.Wait()
}

func (r *Reconciler) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.ctx)
		}
	}
}

// Sweep runs one reconciliation pass. It is exported so the sweep can
// be driven directly in tests and on demand.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.failInterruptedDispatches(ctx)
	r.pollStuckRuns(ctx)
}

// failInterruptedDispatches fails CREATED runs older than the dispatch
// deadline. A run parked in CREATED means the process died between
// registering the run and recording the dispatch outcome.
func (r *Reconciler) failInterruptedDispatches(ctx context.Context) {
	stale, err := r.runs.ListRunsInStatus(ctx, domain.RunStatusCreated, r.config.DispatchDeadline)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list interrupted dispatches", "error", err)
		metrics.ReconcilerSweepsTotal.WithLabelValues("error").Inc()
		return
	}

	for _, run := range stale {
		_, applied, err := r.runs.TransitionRun(ctx, run.ID, store.Transition{
			Status: domain.RunStatusFailed,
			Failure: &domain.RunFailure{
				Message: "dispatch interrupted before an execution path accepted the run",
				Source:  "dispatch",
			},
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to fail interrupted run",
				"run_id", run.ID, "error", err)
			continue
		}
		if applied {
			r.logger.WarnContext(ctx, "interrupted dispatch failed",
				"run_id", run.ID,
				"ticket_key", run.TicketKey,
				"age", time.Since(run.CreatedAt))
			metrics.ReconcilerSweepsTotal.WithLabelValues("interrupted").Inc()
		}
	}
}

// pollStuckRuns asks the provider about RUNNING runs whose callbacks
// are overdue and feeds terminal answers through the regular completion
// path, so notification and idempotence behave exactly as if the
// callback had arrived.
func (r *Reconciler) pollStuckRuns(ctx context.Context) {
	if r.checker == nil || r.completion == nil {
		return
	}

	stuck, err := r.runs.ListRunsInStatus(ctx, domain.RunStatusRunning, r.config.StuckRunAge)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to list stuck runs", "error", err)
		metrics.ReconcilerSweepsTotal.WithLabelValues("error").Inc()
		return
	}

	for _, run := range stuck {
		if run.ProviderRunID == "" {
			// Fallback runs complete through the PR webhook; there is
			// nothing to poll.
			continue
		}

		status, err := r.checker.GetRunStatus(ctx, run.ProviderRunID)
		if err != nil {
			r.logger.WarnContext(ctx, "status poll failed",
				"run_id", run.ID,
				"provider_run_id", run.ProviderRunID,
				"error", err)
			continue
		}

		reported, err := domain.ParseRunStatus(status.Status)
		if err != nil || !reported.IsTerminal() {
			continue
		}

		completion := callback.Completion{
			Status:       reported,
			PRURL:        status.PRURL,
			PRNumber:     status.PRNumber,
			Branch:       status.BranchName,
			CommitSHA:    status.CommitSHA,
			Summary:      status.Analysis,
			Files:        status.FilesChanged,
			ErrorMessage: status.ErrorMessage,
		}
		if _, err := r.completion.HandleCompletion(ctx, run.ID, completion); err != nil {
			r.logger.ErrorContext(ctx, "failed to apply polled completion",
				"run_id", run.ID, "error", err)
			continue
		}

		r.logger.InfoContext(ctx, "stuck run reconciled from provider status",
			"run_id", run.ID,
			"status", string(reported))
		metrics.ReconcilerSweepsTotal.WithLabelValues("reconciled").Inc()
	}
}
