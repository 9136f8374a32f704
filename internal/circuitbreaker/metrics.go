package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for circuit breakers. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	state        *prometheus.GaugeVec
	requests     *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	stateChanges *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of the circuit breaker (0=closed, 1=open, 2=half_open)",
			},
			[]string{"service"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "requests_total",
				Help:      "Total number of requests evaluated by circuit breakers",
			},
			[]string{"service", "result"},
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "outcomes_total",
				Help:      "Total number of backend outcomes recorded by circuit breakers",
			},
			[]string{"service", "outcome"},
		),
		stateChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "circuit_breaker",
				Name:      "state_changes_total",
				Help:      "Total number of circuit breaker state changes",
			},
			[]string{"service", "from", "to"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.state, m.requests, m.outcomes, m.stateChanges)
	}

	return m
}

func (m *Metrics) recordState(name string, state State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) recordRequest(name string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.requests.WithLabelValues(name, result).Inc()
}

func (m *Metrics) recordOutcome(name string, success bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	m.outcomes.WithLabelValues(name, outcome).Inc()
}

func (m *Metrics) recordStale(name string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(name, "stale").Inc()
}

func (m *Metrics) recordTransition(name string, from, to State) {
	if m == nil {
		return
	}
	m.state.WithLabelValues(name).Set(float64(to))
	m.stateChanges.WithLabelValues(name, from.String(), to.String()).Inc()
}

func (m *Metrics) forget(name string) {
	if m == nil {
		return
	}
	m.state.DeleteLabelValues(name)
}
