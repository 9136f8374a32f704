package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Health monitor defaults.
const (
	DefaultHealthInterval    = 30 * time.Second
	DefaultHealthTimeout     = 5 * time.Second
	DefaultHealthConcurrency = 16
)

// HealthConfig configures the health monitor.
type HealthConfig struct {
	Interval    time.Duration
	Timeout     time.Duration
	Concurrency int
}

// DefaultHealthConfig returns a HealthConfig with default values.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:    DefaultHealthInterval,
		Timeout:     DefaultHealthTimeout,
		Concurrency: DefaultHealthConcurrency,
	}
}

// StatusChangeFunc is called when an instance changes health status.
type StatusChangeFunc func(service, instance string, from, to Status)

// HealthMonitor periodically probes every instance of each active service.
type HealthMonitor struct {
	registry *Registry
	config   HealthConfig
	client   *http.Client
	logger   *zap.Logger
	metrics  *Metrics
	onChange StatusChangeFunc

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// HealthOption configures a HealthMonitor.
type HealthOption func(*HealthMonitor)

// WithHealthLogger sets the logger.
func WithHealthLogger(logger *zap.Logger) HealthOption {
	return func(m *HealthMonitor) {
		m.logger = logger
	}
}

// WithHealthClient sets the HTTP client used for probes.
func WithHealthClient(client *http.Client) HealthOption {
	return func(m *HealthMonitor) {
		m.client = client
	}
}

// WithHealthMetrics sets the metrics.
func WithHealthMetrics(metrics *Metrics) HealthOption {
	return func(m *HealthMonitor) {
		m.metrics = metrics
	}
}

// WithStatusChangeCallback sets a callback for status changes.
func WithStatusChangeCallback(fn StatusChangeFunc) HealthOption {
	return func(m *HealthMonitor) {
		m.onChange = fn
	}
}

// NewHealthMonitor creates a monitor for the services in registry.
func NewHealthMonitor(registry *Registry, cfg HealthConfig, opts ...HealthOption) *HealthMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultHealthInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHealthTimeout
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultHealthConcurrency
	}

	m := &HealthMonitor{
		registry: registry,
		config:   cfg,
		client:   &http.Client{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs an immediate probe round and then one per interval until Stop
// is called or ctx is canceled.
func (m *HealthMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)

	m.logger.Info("health monitor started",
		zap.Duration("interval", m.config.Interval),
		zap.Duration("timeout", m.config.Timeout),
	)
}

// Stop stops the probe loop and waits for the current round to finish.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
	m.logger.Info("health monitor stopped")
}

// IsRunning reports whether the probe loop is active.
func (m *HealthMonitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *HealthMonitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.CheckNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.CheckNow(ctx)
		}
	}
}

// CheckNow probes every instance of every active service and waits for the
// round to complete.
func (m *HealthMonitor) CheckNow(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(m.config.Concurrency)

	for _, entry := range m.registry.activeEntries() {
		desc := entry.desc
		for _, inst := range entry.instances {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				m.probe(ctx, desc, inst)
				return nil
			})
		}
	}

	_ = g.Wait()
}

func (m *HealthMonitor) probe(ctx context.Context, desc *ServiceDescriptor, inst *Instance) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	target := inst.String() + "/" + strings.TrimLeft(desc.HealthCheckPath, "/")
	start := time.Now()
	result := CheckResult{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err == nil {
		var resp *http.Response
		resp, err = m.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
			_ = resp.Body.Close()
			result.StatusCode = resp.StatusCode
		}
	}

	result.Latency = time.Since(start)
	result.LatencyMs = result.Latency.Milliseconds()
	result.Status = classify(result.StatusCode, err)
	if err != nil {
		result.Error = err.Error()
	} else if result.Status != StatusHealthy {
		result.Error = fmt.Sprintf("unexpected status %d", result.StatusCode)
	}

	previous := inst.recordCheck(result)
	m.metrics.recordProbe(desc.Name, inst.String(), result)

	if previous != result.Status {
		m.logger.Info("instance health changed",
			zap.String("service", desc.Name),
			zap.String("instance", inst.String()),
			zap.Stringer("from", previous),
			zap.Stringer("to", result.Status),
			zap.String("error", result.Error),
		)
		if m.onChange != nil {
			m.onChange(desc.Name, inst.String(), previous, result.Status)
		}
	}
}

// classify maps a probe outcome to a status: 200 is healthy, other statuses
// below 500 are degraded, errors and 5xx are unhealthy.
func classify(statusCode int, err error) Status {
	switch {
	case err != nil:
		return StatusUnhealthy
	case statusCode == http.StatusOK:
		return StatusHealthy
	case statusCode < http.StatusInternalServerError:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// ServiceStatus aggregates instance statuses: healthy when every instance is
// healthy, unhealthy when every instance is unhealthy, unknown when no
// instance has been probed, degraded otherwise.
func (m *HealthMonitor) ServiceStatus(name string) Status {
	return AggregateStatus(m.registry.Instances(name))
}

// AggregateStatus folds instance statuses into one service status.
func AggregateStatus(instances []*Instance) Status {
	if len(instances) == 0 {
		return StatusUnknown
	}
	counts := make(map[Status]int, 4)
	for _, inst := range instances {
		counts[inst.Status()]++
	}
	switch len(instances) {
	case counts[StatusHealthy]:
		return StatusHealthy
	case counts[StatusUnhealthy]:
		return StatusUnhealthy
	case counts[StatusUnknown]:
		return StatusUnknown
	default:
		return StatusDegraded
	}
}
