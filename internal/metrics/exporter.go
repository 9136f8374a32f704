package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter publishes request metrics to Prometheus. A nil *Exporter is
// valid and records nothing.
type Exporter struct {
	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewExporter creates the request collectors and registers them with reg.
func NewExporter(namespace string, reg prometheus.Registerer) *Exporter {
	e := &Exporter{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of proxied requests",
			},
			[]string{"service", "method", "status"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_errors_total",
				Help:      "Total number of proxied requests answered with status >= 400",
			},
			[]string{"service", "method"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Proxied request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"service", "method"},
		),
	}

	if reg != nil {
		reg.MustRegister(e.requestsTotal, e.errorsTotal, e.requestDuration)
	}
	return e
}

func (e *Exporter) observe(service, method string, statusCode int, d time.Duration) {
	if e == nil {
		return
	}
	e.requestsTotal.WithLabelValues(service, method, strconv.Itoa(statusCode)).Inc()
	if statusCode >= 400 {
		e.errorsTotal.WithLabelValues(service, method).Inc()
	}
	e.requestDuration.WithLabelValues(service, method).Observe(d.Seconds())
}
