// Package dispatch implements the task dispatcher: it creates the
// registry entry for a ticket's fix run, drives the primary provider
// call through the retry executor and circuit breaker, falls back to
// the workflow-dispatch path when the primary leg is exhausted, and
// records the outcome on the run.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/antoleandarius/copilot-fix-bridge/internal/backoff"
	"github.com/antoleandarius/copilot-fix-bridge/internal/breaker"
	"github.com/antoleandarius/copilot-fix-bridge/internal/domain"
	"github.com/antoleandarius/copilot-fix-bridge/internal/metrics"
	"github.com/antoleandarius/copilot-fix-bridge/internal/remote"
	"github.com/antoleandarius/copilot-fix-bridge/internal/store"
	"github.com/google/uuid"
)

// ErrDispatchFailed is returned when every configured execution path
// was tried and none accepted the run. It wraps the per-leg errors.
var ErrDispatchFailed = errors.New("dispatch failed on all execution paths")

// Request carries the ticket fields a dispatch needs.
type Request struct {
	TicketKey         string
	TicketSummary     string
	TicketDescription string
	TicketURL         string
}

// ServiceConfig bundles the dispatcher's dependencies.
type ServiceConfig struct {
	Runs       store.RunStore
	Primary    remote.RunCreator
	Fallback   remote.RunCreator // nil disables the fallback path
	Canceller  remote.RunCanceller
	Executor   *backoff.Executor
	Breaker    *breaker.Breaker
	Repository string
	BranchBase string
	Logger     *slog.Logger
}

// Service dispatches fix runs and cancels in-flight ones.
type Service struct {
	runs       store.RunStore
	primary    remote.RunCreator
	fallback   remote.RunCreator
	canceller  remote.RunCanceller
	executor   *backoff.Executor
	brk        *breaker.Breaker
	repository string
	branchBase string
	logger     *slog.Logger
}

// NewService creates a dispatch service. Runs, Primary, Executor, and
// Breaker are required.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Runs == nil {
		return nil, errors.New("dispatch: run store is required")
	}
	if cfg.Primary == nil {
		return nil, errors.New("dispatch: primary run creator is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("dispatch: backoff executor is required")
	}
	if cfg.Breaker == nil {
		return nil, errors.New("dispatch: circuit breaker is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		runs:       cfg.Runs,
		primary:    cfg.Primary,
		fallback:   cfg.Fallback,
		canceller:  cfg.Canceller,
		executor:   cfg.Executor,
		brk:        cfg.Breaker,
		repository: cfg.Repository,
		branchBase: cfg.BranchBase,
		logger:     logger.With("component", "dispatch_service"),
	}, nil
}

// Dispatch creates a run for the ticket and hands it to an execution
// path. The returned run is RUNNING when a path accepted it; when every
// path refused, the run is FAILED and the combined error is returned.
func (s *Service) Dispatch(ctx context.Context, req Request) (*domain.Run, error) {
	run, err := domain.NewRun(req.TicketKey)
	if err != nil {
		return nil, err
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to register run: %w", err)
	}

	input := remote.RunInput{
		RunReference:      run.ID.String(),
		TicketKey:         req.TicketKey,
		TicketSummary:     req.TicketSummary,
		TicketDescription: req.TicketDescription,
		TicketURL:         req.TicketURL,
		Repository:        s.repository,
		BranchBase:        s.branchBase,
		BranchName:        "fix/" + req.TicketKey,
	}

	attempts := 0
	var created *remote.CreatedRun
	primaryErr := s.executor.Execute(ctx, func(ctx context.Context) error {
		return s.brk.Execute(ctx, func(ctx context.Context) error {
			attempts++
			c, err := s.primary.CreateRun(ctx, input)
			if err != nil {
				return err
			}
			created = c
			return nil
		})
	})

	if primaryErr == nil {
		updated, _, err := s.runs.TransitionRun(ctx, run.ID, store.Transition{
			Status:        domain.RunStatusRunning,
			ProviderRunID: created.ProviderRunID,
			AttemptCount:  attempts,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record dispatch: %w", err)
		}
		metrics.DispatchTotal.WithLabelValues("primary").Inc()
		s.logger.InfoContext(ctx, "run dispatched",
			"run_id", run.ID,
			"ticket_key", req.TicketKey,
			"path", s.primary.Name(),
			"attempts", attempts)
		return updated, nil
	}

	// A cancelled request never falls back; the caller walked away.
	if errors.Is(primaryErr, context.Canceled) || errors.Is(primaryErr, context.DeadlineExceeded) {
		s.failRun(ctx, run.ID, "dispatch cancelled: "+primaryErr.Error())
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		return nil, primaryErr
	}

	s.logger.WarnContext(ctx, "primary dispatch failed",
		"run_id", run.ID,
		"ticket_key", req.TicketKey,
		"attempts", attempts,
		"circuit_open", errors.Is(primaryErr, breaker.ErrOpen),
		"error", primaryErr)

	if s.fallback == nil {
		combined := fmt.Errorf("%w: %s: %v", ErrDispatchFailed, s.primary.Name(), primaryErr)
		s.failRun(ctx, run.ID, combined.Error())
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		return nil, combined
	}

	// The fallback leg is a single attempt; it exists to absorb primary
	// outages, not to accumulate its own retry budget.
	if _, fallbackErr := s.fallback.CreateRun(ctx, input); fallbackErr != nil {
		combined := fmt.Errorf("%w: %s: %v; %s: %v",
			ErrDispatchFailed, s.primary.Name(), primaryErr, s.fallback.Name(), fallbackErr)
		s.failRun(ctx, run.ID, combined.Error())
		metrics.DispatchTotal.WithLabelValues("failed").Inc()
		return nil, combined
	}

	updated, _, err := s.runs.TransitionRun(ctx, run.ID, store.Transition{
		Status:       domain.RunStatusRunning,
		AttemptCount: attempts,
		UsedFallback: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record fallback dispatch: %w", err)
	}
	metrics.DispatchTotal.WithLabelValues("fallback").Inc()
	s.logger.InfoContext(ctx, "run dispatched via fallback",
		"run_id", run.ID,
		"ticket_key", req.TicketKey,
		"path", s.fallback.Name(),
		"primary_error", primaryErr.Error())
	return updated, nil
}

// Cancel aborts an in-flight run. The provider cancel is best effort;
// the registry transition is what decides the outcome.
func (s *Service) Cancel(ctx context.Context, runID uuid.UUID) (*domain.Run, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run.ProviderRunID != "" && s.canceller != nil {
		if err := s.canceller.CancelRun(ctx, run.ProviderRunID); err != nil {
			s.logger.WarnContext(ctx, "provider cancel failed",
				"run_id", runID,
				"provider_run_id", run.ProviderRunID,
				"error", err)
		}
	}

	updated, applied, err := s.runs.TransitionRun(ctx, runID, store.Transition{
		Status: domain.RunStatusCancelled,
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.logger.InfoContext(ctx, "run cancelled", "run_id", runID)
	}
	return updated, nil
}

// failRun parks the run in FAILED after dispatch could not place it
// anywhere. The transition failing is only logged; the caller already
// holds the more useful dispatch error.
func (s *Service) failRun(ctx context.Context, runID uuid.UUID, message string) {
	_, _, err := s.runs.TransitionRun(ctx, runID, store.Transition{
		Status:  domain.RunStatusFailed,
		Failure: &domain.RunFailure{Message: message, Source: "dispatch"},
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to record dispatch failure",
			"run_id", runID,
			"error", err)
	}
}
