// Package metrics defines the Prometheus collectors for discovery, staging,
// and session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Discovery outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

// Staging outcomes.
const (
	StagingStaged = "staged"
	StagingReused = "reused"
	StagingFailed = "failed"
)

// Session failure kinds.
const (
	FailureLaunch    = "launch"
	FailureTransport = "transport"
	FailureNotFound  = "not_found"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	discoveryAttempts    *prometheus.CounterVec
	staging              *prometheus.CounterVec
	lifecycleTransitions *prometheus.CounterVec
	sessionFailures      *prometheus.CounterVec
}

// New registers the collectors with reg. Use a fresh registry per instance;
// registering twice on the same registry panics.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		discoveryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pglt_discovery_attempts_total",
				Help: "Binary discovery strategy runs by outcome.",
			},
			[]string{"strategy", "outcome"},
		),
		staging: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pglt_staging_total",
				Help: "Binary staging attempts by outcome.",
			},
			[]string{"outcome"},
		),
		lifecycleTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pglt_lifecycle_transitions_total",
				Help: "Lifecycle state transitions.",
			},
			[]string{"from", "to"},
		),
		sessionFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pglt_session_failures_total",
				Help: "Session failures by kind.",
			},
			[]string{"kind"},
		),
	}
}

// DiscoveryAttempt records one strategy run.
func (m *Metrics) DiscoveryAttempt(strategy, outcome string) {
	if m == nil {
		return
	}
	m.discoveryAttempts.WithLabelValues(strategy, outcome).Inc()
}

// Staging records one staging attempt.
func (m *Metrics) Staging(outcome string) {
	if m == nil {
		return
	}
	m.staging.WithLabelValues(outcome).Inc()
}

// Transition records a lifecycle state change.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.lifecycleTransitions.WithLabelValues(from, to).Inc()
}

// SessionFailure records a failed or crashed session.
func (m *Metrics) SessionFailure(kind string) {
	if m == nil {
		return
	}
	m.sessionFailures.WithLabelValues(kind).Inc()
}
