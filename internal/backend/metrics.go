package backend

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for health probing. A nil
// *Metrics records nothing.
type Metrics struct {
	health        *prometheus.GaugeVec
	probes        *prometheus.CounterVec
	probeDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		health: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "instance_health",
				Help:      "Instance health status (0=unknown, 1=healthy, 2=degraded, 3=unhealthy)",
			},
			[]string{"service", "instance"},
		),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "health_probes_total",
				Help:      "Total number of health probes by result",
			},
			[]string{"service", "status"},
		),
		probeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "backend",
				Name:      "health_probe_duration_seconds",
				Help:      "Health probe duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.health, m.probes, m.probeDuration)
	}

	return m
}

func (m *Metrics) recordProbe(service, instance string, result CheckResult) {
	if m == nil {
		return
	}
	m.health.WithLabelValues(service, instance).Set(float64(result.Status))
	m.probes.WithLabelValues(service, result.Status.String()).Inc()
	m.probeDuration.WithLabelValues(service).Observe(result.Latency.Seconds())
}

// Forget drops the per-instance series of a removed service.
func (m *Metrics) Forget(service string) {
	if m == nil {
		return
	}
	m.health.DeletePartialMatch(prometheus.Labels{"service": service})
}
