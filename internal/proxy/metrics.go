package proxy

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for backend calls. A nil *Metrics
// records nothing.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "backend_requests_total",
				Help:      "Total number of requests forwarded to backends",
			},
			[]string{"service", "code", "error"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "proxy",
				Name:      "backend_request_duration_seconds",
				Help:      "Backend call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.duration)
	}

	return m
}

func (m *Metrics) record(service string, result Result) {
	if m == nil {
		return
	}
	errCode := ""
	if result.Err != nil {
		errCode = result.Err.Code
	}
	m.requests.WithLabelValues(service, strconv.Itoa(result.StatusCode), errCode).Inc()
	m.duration.WithLabelValues(service).Observe(result.Latency.Seconds())
}
