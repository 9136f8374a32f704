package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for health reports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reports     *prometheus.CounterVec
	checkStatus *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "reports_total",
				Help:      "Total number of health reports by aggregate status",
			},
			[]string{"status"},
		),
		checkStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "check_status",
				Help:      "Last result of a health check (1=healthy, 0.5=degraded, 0=unhealthy)",
			},
			[]string{"check"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.reports, m.checkStatus)
	}
	return m
}

func (m *Metrics) recordReport(status Status) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) recordCheck(name string, status Status) {
	if m == nil {
		return
	}
	switch status {
	case StatusHealthy:
		m.checkStatus.WithLabelValues(name).Set(1)
	case StatusDegraded:
		m.checkStatus.WithLabelValues(name).Set(0.5)
	case StatusUnhealthy:
		m.checkStatus.WithLabelValues(name).Set(0)
	}
}

func (m *Metrics) forget(name string) {
	if m == nil {
		return
	}
	m.checkStatus.DeleteLabelValues(name)
}
