// Package health builds the gateway's aggregate health report from named
// checks: one per registered backend service plus infrastructure checks such
// as the shared rate limit store.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Status represents the health status.
type Status string

const (
	// StatusHealthy indicates the component is healthy.
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is degraded but operational.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is unhealthy.
	StatusUnhealthy Status = "unhealthy"
	// StatusUnknown indicates the component has not been checked yet.
	StatusUnknown Status = "unknown"
)

// DefaultCheckTimeout bounds every check run by Report.
const DefaultCheckTimeout = 2 * time.Second

// Check is the result of one named check.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Details any    `json:"details,omitempty"`
}

// CheckFunc performs a check.
type CheckFunc func(ctx context.Context) Check

// Report is the aggregate health of the gateway.
type Report struct {
	Status    Status           `json:"status"`
	Version   string           `json:"version,omitempty"`
	Uptime    string           `json:"uptime"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Stats     map[string]any   `json:"stats,omitempty"`
}

type registeredCheck struct {
	fn       CheckFunc
	critical bool
}

// Checker holds the registered checks.
type Checker struct {
	version   string
	startTime time.Time
	now       func() time.Time
	timeout   time.Duration
	stats     func() map[string]any
	metrics   *Metrics

	mu     sync.RWMutex
	checks map[string]registeredCheck
}

// Option configures a Checker.
type Option func(*Checker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCheckTimeout sets the per-report check timeout.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithStats sets a function whose result is embedded in every report.
func WithStats(fn func() map[string]any) Option {
	return func(c *Checker) {
		c.stats = fn
	}
}

// WithMetrics sets the Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Checker) {
		c.metrics = m
	}
}

// NewChecker creates a health checker.
func NewChecker(version string, opts ...Option) *Checker {
	c := &Checker{
		version: version,
		now:     time.Now,
		timeout: DefaultCheckTimeout,
		checks:  make(map[string]registeredCheck),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.startTime = c.now()
	return c
}

// RegisterCheck adds or replaces a check. An unhealthy critical check makes
// the whole report unhealthy.
func (c *Checker) RegisterCheck(name string, critical bool, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registeredCheck{fn: fn, critical: critical}
}

// UnregisterCheck removes a check.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
	c.metrics.forget(name)
}

// Names returns the registered check names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Report runs every check and aggregates the results.
func (c *Checker) Report(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]registeredCheck, len(c.checks))
	for name, rc := range c.checks {
		checks[name] = rc
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	now := c.now()
	report := Report{
		Version:   c.version,
		Uptime:    now.Sub(c.startTime).Round(time.Second).String(),
		Timestamp: now.UTC(),
		Checks:    make(map[string]Check, len(checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, rc := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := rc.fn(ctx)
			if result.Status == "" {
				result.Status = StatusUnknown
			}
			mu.Lock()
			report.Checks[name] = result
			mu.Unlock()
			c.metrics.recordCheck(name, result.Status)
		}()
	}
	wg.Wait()

	report.Status = aggregate(report.Checks, checks)
	if c.stats != nil {
		report.Stats = c.stats()
	}
	c.metrics.recordReport(report.Status)

	return report
}

// aggregate is unhealthy when a critical check is unhealthy or when every
// probed check is unhealthy, degraded when anything is not healthy, healthy
// otherwise. Unknown checks are ignored.
func aggregate(results map[string]Check, checks map[string]registeredCheck) Status {
	status := StatusHealthy
	probed, unhealthy := 0, 0

	for name, result := range results {
		switch result.Status {
		case StatusUnknown:
			continue
		case StatusUnhealthy:
			if checks[name].critical {
				return StatusUnhealthy
			}
			unhealthy++
			status = StatusDegraded
		case StatusDegraded:
			status = StatusDegraded
		}
		probed++
	}

	if probed > 0 && unhealthy == probed {
		return StatusUnhealthy
	}
	return status
}

// Handler serves the report. Unhealthy reports are served with 503.
func (c *Checker) Handler() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		report := c.Report(ctx.Request.Context())
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		ctx.JSON(status, report)
	}
}

// PingCheck adapts a connectivity probe such as a Redis ping.
func PingCheck(ping func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: err.Error()}
		}
		return Check{Status: StatusHealthy}
	}
}
