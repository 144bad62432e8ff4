// Package backoff provides a retry executor with exponential delays.
// It wraps a single remote operation with a bounded retry budget; the
// caller supplies the classification of which errors are worth
// retrying, keeping retry policy separate from how errors are reported.
package backoff

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy holds the retry parameters for an Executor.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt;
	// an always-failing operation is invoked MaxRetries+1 times.
	MaxRetries int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// BackoffFactor multiplies the delay after every attempt.
	BackoffFactor float64

	// MaxDelay caps the computed delay.
	MaxDelay time.Duration

	// RespectRetryAfter makes the executor honor a provider's
	// rate-limit hint (extracted via Executor.RetryAfter) in place of
	// the exponential delay for that wait. The hint is still capped
	// at MaxDelay.
	RespectRetryAfter bool
}

// DefaultPolicy returns a Policy with reasonable defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      60 * time.Second,
	}
}

// Executor runs operations under a retry Policy.
type Executor struct {
	policy Policy
	logger *slog.Logger

	// Retryable classifies whether an error consumes retry budget.
	// Errors it rejects propagate immediately. Defaults to retrying
	// nothing, which makes an unconfigured executor a plain passthrough.
	Retryable func(error) bool

	// RetryAfter extracts a provider wait hint from an error. Only
	// consulted when Policy.RespectRetryAfter is set.
	RetryAfter func(error) (time.Duration, bool)

	// sleep waits for the given duration or until the context is
	// cancelled. Replaced in tests to observe the wait sequence.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with the given policy. The Retryable
// and RetryAfter classifiers can be set on the returned value.
func NewExecutor(policy Policy, logger *slog.Logger) *Executor {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = 1
	}

	return &Executor{
		policy: policy,
		logger: logger,
		Retryable: func(error) bool {
			return false
		},
		sleep: sleepContext,
	}
}

// Execute runs op, retrying on errors the Retryable classifier accepts.
// The delay starts at InitialDelay and is multiplied by BackoffFactor
// after every attempt, capped at MaxDelay. After MaxRetries failed
// retries the last error is returned; non-retryable errors propagate
// immediately without consuming budget. A cancelled context aborts the
// wait and returns the context's error.
func (e *Executor) Execute(ctx context.Context, op func(context.Context) error) error {
	delay := e.policy.InitialDelay
	maxAttempts := e.policy.MaxRetries + 1

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Info("operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", maxAttempts)
			}
			return nil
		}

		if !e.Retryable(err) {
			e.logger.Debug("non-retryable error, not retrying",
				"attempt", attempt,
				"error", err)
			return err
		}

		if attempt >= maxAttempts {
			e.logger.Error("retry budget exhausted",
				"attempts", attempt,
				"error", err)
			return err
		}

		wait := delay
		if e.policy.RespectRetryAfter && e.RetryAfter != nil {
			if hint, ok := e.RetryAfter(err); ok {
				wait = hint
			}
		}
		if wait > e.policy.MaxDelay {
			wait = e.policy.MaxDelay
		}

		e.logger.Warn("operation failed, retrying after delay",
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"delay", wait,
			"error", err)

		if err := e.sleep(ctx, wait); err != nil {
			e.logger.Warn("retry wait cancelled", "attempt", attempt, "error", err)
			return fmt.Errorf("retry aborted: %w", err)
		}

		delay = time.Duration(float64(delay) * e.policy.BackoffFactor)
		if delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}
}

// sleepContext blocks for d or until ctx is cancelled, returning the
// context's error in the cancellation case.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
