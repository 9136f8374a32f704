// Package metrics aggregates per-service request statistics for the
// management API and mirrors them into Prometheus.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const keySeparator = ":"

// ServiceMetrics holds the counters of one (service, method) pair.
type ServiceMetrics struct {
	Service             string    `json:"service"`
	Method              string    `json:"method"`
	RequestCount        int64     `json:"requestCount"`
	ErrorCount          int64     `json:"errorCount"`
	TotalResponseTimeMs float64   `json:"totalResponseTimeMs"`
	MinResponseTimeMs   float64   `json:"minResponseTimeMs"`
	MaxResponseTimeMs   float64   `json:"maxResponseTimeMs"`
	LastRequestAt       time.Time `json:"lastRequestAt"`
}

// AverageResponseTimeMs returns the mean latency, or 0 without requests.
func (m ServiceMetrics) AverageResponseTimeMs() float64 {
	if m.RequestCount == 0 {
		return 0
	}
	return m.TotalResponseTimeMs / float64(m.RequestCount)
}

// Summary aggregates every method entry of one service.
type Summary struct {
	Service             string  `json:"service"`
	RequestCount        int64   `json:"requestCount"`
	ErrorCount          int64   `json:"errorCount"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	MinResponseTimeMs   float64 `json:"minResponseTimeMs"`
	MaxResponseTimeMs   float64 `json:"maxResponseTimeMs"`
	ErrorRate           float64 `json:"errorRate"`
}

// Collector records request outcomes keyed by service and method.
type Collector struct {
	mu      sync.RWMutex
	entries map[string]*ServiceMetrics

	exporter *Exporter
	now      func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithExporter mirrors every record into Prometheus.
func WithExporter(e *Exporter) Option {
	return func(c *Collector) {
		c.exporter = e
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCollector creates an empty collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		entries: make(map[string]*ServiceMetrics),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func entryKey(service, method string) string {
	return service + keySeparator + method
}

// Record adds one request. Status codes of 400 and above count as errors.
func (c *Collector) Record(service, method string, statusCode int, responseTime time.Duration) {
	ms := float64(responseTime) / float64(time.Millisecond)
	method = strings.ToUpper(method)
	key := entryKey(service, method)

	c.mu.Lock()
	m, ok := c.entries[key]
	if !ok {
		m = &ServiceMetrics{
			Service:           service,
			Method:            method,
			MinResponseTimeMs: ms,
			MaxResponseTimeMs: ms,
		}
		c.entries[key] = m
	}

	m.RequestCount++
	if statusCode >= 400 {
		m.ErrorCount++
	}
	m.TotalResponseTimeMs += ms
	if ms < m.MinResponseTimeMs {
		m.MinResponseTimeMs = ms
	}
	if ms > m.MaxResponseTimeMs {
		m.MaxResponseTimeMs = ms
	}
	m.LastRequestAt = c.now()
	c.mu.Unlock()

	c.exporter.observe(service, method, statusCode, responseTime)
}

// Get returns a copy of the entry for (service, method).
func (c *Collector) Get(service, method string) (ServiceMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.entries[entryKey(service, strings.ToUpper(method))]
	if !ok {
		return ServiceMetrics{}, false
	}
	return *m, true
}

// Snapshot returns copies of every entry sorted by service then method.
func (c *Collector) Snapshot() []ServiceMetrics {
	c.mu.RLock()
	out := make([]ServiceMetrics, 0, len(c.entries))
	for _, m := range c.entries {
		out = append(out, *m)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// ServiceSummary sums every method entry of service.
func (c *Collector) ServiceSummary(service string) Summary {
	prefix := service + keySeparator
	s := Summary{Service: service}
	var total float64
	first := true

	c.mu.RLock()
	for key, m := range c.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		s.RequestCount += m.RequestCount
		s.ErrorCount += m.ErrorCount
		total += m.TotalResponseTimeMs
		if first || m.MinResponseTimeMs < s.MinResponseTimeMs {
			s.MinResponseTimeMs = m.MinResponseTimeMs
		}
		if first || m.MaxResponseTimeMs > s.MaxResponseTimeMs {
			s.MaxResponseTimeMs = m.MaxResponseTimeMs
		}
		first = false
	}
	c.mu.RUnlock()

	if s.RequestCount > 0 {
		s.AverageResponseTime = total / float64(s.RequestCount)
		s.ErrorRate = float64(s.ErrorCount) / float64(s.RequestCount)
	}
	return s
}

// Services returns the names of every service with recorded traffic.
func (c *Collector) Services() []string {
	seen := make(map[string]struct{})

	c.mu.RLock()
	for _, m := range c.entries {
		seen[m.Service] = struct{}{}
	}
	c.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Reset clears the entries of service, or every entry when service is empty.
func (c *Collector) Reset(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if service == "" {
		c.entries = make(map[string]*ServiceMetrics)
		return
	}

	prefix := service + keySeparator
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}
