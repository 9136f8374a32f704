package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for authentication. A nil *Metrics
// records nothing.
type Metrics struct {
	attempts *prometheus.CounterVec
	denials  *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "attempts_total",
				Help:      "Total number of token authentication attempts",
			},
			[]string{"result"},
		),
		denials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "denials_total",
				Help:      "Total number of requests denied by role or permission gates",
			},
			[]string{"gate"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.attempts, m.denials)
	}

	return m
}

func (m *Metrics) recordAttempt(result string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(result).Inc()
}

func (m *Metrics) recordDenial(gate string) {
	if m == nil {
		return
	}
	m.denials.WithLabelValues(gate).Inc()
}
