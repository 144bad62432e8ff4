// Package breaker implements a circuit breaker guarding calls to a
// single remote dependency. The breaker tracks consecutive counted
// failures and short-circuits calls while the dependency is deemed
// unhealthy:
//
//   - closed: normal operation, calls pass through
//   - open: calls rejected immediately with ErrOpen
//   - half-open: exactly one probe call allowed through
//
// Each guarded dependency gets its own Breaker instance; state is never
// shared across dependencies.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call without invoking
// the wrapped operation.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the breaker's position in its state machine.
type State int

// Breaker states
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Settings configures a Breaker.
type Settings struct {
	// Name identifies the guarded dependency in logs and metrics.
	Name string

	// FailureThreshold is the number of consecutive counted failures
	// that opens the circuit.
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a
	// probe call is allowed through.
	RecoveryTimeout time.Duration

	// IsCounted classifies which errors increment the failure counter.
	// Errors it rejects pass through without affecting breaker state.
	// When nil, every error counts.
	IsCounted func(error) bool

	// OnStateChange, if set, is invoked after every state transition.
	// It runs under the breaker's lock and must not call back into
	// the breaker.
	OnStateChange func(name string, from, to State)
}

// Snapshot is a read-only view of the breaker for health reporting.
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`
}

// Breaker guards one remote dependency. All state is mutated under a
// single mutex so concurrent callers cannot lose failure counts.
type Breaker struct {
	settings Settings
	logger   *slog.Logger

	mu            sync.Mutex
	state         State
	failureCount  int
	lastFailureAt time.Time
	probeInFlight bool

	// now is replaced in tests to control the recovery clock.
	now func() time.Time
}

// New creates a Breaker in the closed state.
func New(settings Settings, logger *slog.Logger) *Breaker {
	if settings.IsCounted == nil {
		settings.IsCounted = func(error) bool { return true }
	}

	return &Breaker{
		settings: settings,
		logger:   logger.With("breaker", settings.Name),
		state:    StateClosed,
		now:      time.Now,
	}
}

// Execute runs op under the breaker's protection. While the circuit is
// open (and the recovery timeout has not elapsed) it returns ErrOpen
// without invoking op. In half-open, exactly one call is allowed as a
// probe; its success closes the circuit, its counted failure reopens it.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := op(ctx)
	b.afterCall(err)
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a point-in-time view of the breaker.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:          b.settings.Name,
		State:         b.state.String(),
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
	}
}

// beforeCall decides whether the call may proceed, performing the
// open -> half-open transition when the recovery window has elapsed.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.settings.RecoveryTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.probeInFlight = true
		b.mu.Unlock()
		return nil

	case StateHalfOpen:
		if b.probeInFlight {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probeInFlight = true
		b.mu.Unlock()
		return nil

	default:
		b.mu.Unlock()
		return ErrOpen
	}
}

// afterCall records the outcome of a call that was allowed through.
func (b *Breaker) afterCall(err error) {
	b.mu.Lock()

	if err == nil {
		b.onSuccess()
		b.mu.Unlock()
		return
	}

	if !b.settings.IsCounted(err) {
		// Unrelated errors pass through without affecting breaker
		// state; a half-open probe slot is released for the next call.
		b.probeInFlight = false
		b.mu.Unlock()
		return
	}

	b.onFailure()
	b.mu.Unlock()
}

// onSuccess resets the failure count and closes a half-open circuit.
// Caller must hold b.mu.
func (b *Breaker) onSuccess() {
	b.failureCount = 0
	b.probeInFlight = false

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
		b.logger.Info("circuit closed, dependency recovered")
	}
}

// onFailure records a counted failure, opening the circuit when the
// threshold is reached or a probe fails. Caller must hold b.mu.
func (b *Breaker) onFailure() {
	b.lastFailureAt = b.now()
	b.probeInFlight = false

	if b.state == StateHalfOpen {
		b.transition(StateOpen)
		b.logger.Warn("probe failed, circuit reopened",
			"recovery_timeout", b.settings.RecoveryTimeout)
		return
	}

	b.failureCount++
	b.logger.Warn("counted failure recorded",
		"failure_count", b.failureCount,
		"threshold", b.settings.FailureThreshold)

	if b.state == StateClosed && b.failureCount >= b.settings.FailureThreshold {
		b.transition(StateOpen)
		b.logger.Error("failure threshold reached, circuit opened",
			"failure_count", b.failureCount,
			"recovery_timeout", b.settings.RecoveryTimeout)
	}
}

// transition moves the breaker to a new state and fires the state
// change hook. Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.settings.Name, from, to)
	}
}
