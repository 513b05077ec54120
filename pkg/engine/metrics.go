package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's prometheus instrumentation. All methods are
// nil-safe so callers that do not register metrics pass nil and pay nothing.
type Metrics struct {
	stepsTotal           *prometheus.CounterVec
	retriesTotal         prometheus.Counter
	sessionsCreated      prometheus.Counter
	rateLimitAcquired    prometheus.Counter
	rateLimitWaitSeconds prometheus.Counter
	rateLimitHits        prometheus.Counter
}

// NewMetrics creates and registers engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "souschef",
			Name:      "steps_total",
			Help:      "Recipe steps executed, by kind and status.",
		}, []string{"kind", "status"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "souschef",
			Name:      "step_retries_total",
			Help:      "Agent step retry attempts.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "souschef",
			Name:      "sessions_created_total",
			Help:      "Recipe sessions created.",
		}),
		rateLimitAcquired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "souschef",
			Name:      "rate_limit_acquisitions_total",
			Help:      "Rate limiter slot acquisitions.",
		}),
		rateLimitWaitSeconds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "souschef",
			Name:      "rate_limit_wait_seconds_total",
			Help:      "Cumulative time spent waiting on the rate limiter.",
		}),
		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "souschef",
			Name:      "rate_limit_hits_total",
			Help:      "Rate limit errors recognized from agent spawns.",
		}),
	}
	reg.MustRegister(
		m.stepsTotal,
		m.retriesTotal,
		m.sessionsCreated,
		m.rateLimitAcquired,
		m.rateLimitWaitSeconds,
		m.rateLimitHits,
	)
	return m
}

// StepCompleted records a step outcome. Status is one of completed, failed,
// or skipped.
func (m *Metrics) StepCompleted(kind, status string) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(kind, status).Inc()
}

// Retry records one retry attempt.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

// SessionCreated records a new session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

// RateLimitAcquired records an acquisition and the wait it incurred.
func (m *Metrics) RateLimitAcquired(wait time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitAcquired.Inc()
	m.rateLimitWaitSeconds.Add(wait.Seconds())
}

// RateLimitHit records a recognized rate-limit error.
func (m *Metrics) RateLimitHit() {
	if m == nil {
		return
	}
	m.rateLimitHits.Inc()
}
