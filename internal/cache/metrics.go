package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus collectors for the response cache. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	hitsTotal      prometheus.Counter
	missesTotal    prometheus.Counter
	evictionsTotal prometheus.Counter
	expiredTotal   prometheus.Counter
	entries        prometheus.Gauge
}

// NewMetrics creates the cache collectors and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Total number of response cache hits",
		}),
		missesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Total number of response cache misses",
		}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Total number of entries evicted to respect capacity",
		}),
		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "expired_total",
			Help:      "Total number of entries removed after their TTL",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Current number of cached entries",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.hitsTotal, m.missesTotal, m.evictionsTotal, m.expiredTotal, m.entries)
	}
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.hitsTotal.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.missesTotal.Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.evictionsTotal.Inc()
	}
}

func (m *Metrics) expired(n int) {
	if m != nil {
		m.expiredTotal.Add(float64(n))
	}
}

func (m *Metrics) size(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
