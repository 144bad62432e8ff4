package remote

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by remote clients
var (
	// ErrUnavailable is returned when the remote service cannot be
	// reached at all: connection refused, DNS failure, request timeout.
	ErrUnavailable = errors.New("remote service unavailable")

	// ErrInvalidResponse is returned when the remote service answers
	// with a body that cannot be decoded.
	ErrInvalidResponse = errors.New("invalid response from remote service")
)

// Error is a structured error for a non-success HTTP response from a
// remote dependency. StatusCode drives the transient/permanent
// classification; RetryAfter carries the provider's rate-limit hint
// when one was present.
type Error struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("remote API error %d: %s", e.StatusCode, e.Message)
}

// NewError creates an Error for the given status code and message.
func NewError(statusCode int, message string) *Error {
	return &Error{StatusCode: statusCode, Message: message}
}

// IsRetryable reports whether the error is worth retrying within a
// backoff budget: unreachable services, 5xx responses, and rate limits.
// Cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	return false
}

// IsCounted reports whether the error should count against a circuit
// breaker's failure threshold. Unreachable services and 5xx responses
// count; client errors do not, and neither do rate limits, which say
// the service is healthy but throttling us.
func IsCounted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}

	return false
}

// IsPermanent reports whether the error is a client-side failure (auth,
// validation) that no amount of retrying will fix.
func IsPermanent(err error) bool {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != 429
	}

	return false
}

// RetryAfterHint extracts the provider's rate-limit wait hint from the
// error, if it carried one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 && apiErr.RetryAfter > 0 {
		return apiErr.RetryAfter, true
	}

	return 0, false
}
