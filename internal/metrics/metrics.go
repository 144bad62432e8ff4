// Package metrics holds the service's Prometheus instruments. They are
// package-level and registered on the default registry; the /metrics
// endpoint exposes them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal counts dispatch attempts by final outcome:
	// primary, fallback, or failed.
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_dispatch_total",
		Help: "Total dispatch attempts by outcome",
	}, []string{"outcome"})

	// CallbackTotal counts completion callbacks by handling result:
	// applied, duplicate, unknown_run, invalid_transition, notify_failed.
	CallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_callback_total",
		Help: "Total completion callbacks by handling result",
	}, []string{"result"})

	// BreakerState reports a circuit breaker's current state
	// (0 closed, 1 open, 2 half-open) per breaker name.
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"breaker"})

	// RetryWaitSeconds observes the waits the backoff executor slept
	// between attempts.
	RetryWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_retry_wait_seconds",
		Help:    "Backoff waits between dispatch attempts",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
	})

	// ReconcilerSweepsTotal counts reconciliation sweeps by result.
	ReconcilerSweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_reconciler_sweeps_total",
		Help: "Reconciler sweeps by result",
	}, []string{"result"})
)
