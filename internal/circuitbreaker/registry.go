package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Registry owns one circuit breaker per registered service.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	defaults *Config
	logger   *zap.Logger
	metrics  *Metrics
	now      func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger handed to every breaker.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMetrics sets the metrics sink handed to every breaker.
func WithRegistryMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithRegistryClock overrides the time source of every breaker.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry. defaults is used for breakers
// created without an explicit config.
func NewRegistry(defaults *Config, opts ...RegistryOption) *Registry {
	if defaults == nil {
		defaults = DefaultConfig()
	}
	r := &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for name.
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// GetOrCreate returns the breaker for name, creating it with the registry
// defaults if needed.
func (r *Registry) GetOrCreate(name string) *CircuitBreaker {
	if cb, ok := r.Get(name); ok {
		return cb
	}
	return r.Configure(name, nil)
}

// Configure creates the breaker for name or, if it exists, replaces its
// configuration while keeping its state.
func (r *Registry) Configure(name string, config *Config) *CircuitBreaker {
	if config == nil {
		config = r.defaults
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		cb.Reconfigure(config)
		return cb
	}

	cb := New(name, config,
		WithLogger(r.logger),
		WithMetrics(r.metrics),
		WithClock(r.now),
	)
	r.breakers[name] = cb

	r.logger.Debug("created circuit breaker",
		zap.String("name", name),
	)

	return cb
}

// Remove deletes the breaker for name.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.breakers[name]; !ok {
		return false
	}
	delete(r.breakers, name)
	r.metrics.forget(name)

	r.logger.Debug("removed circuit breaker",
		zap.String("name", name),
	)
	return true
}

// Reset resets the breaker for name. It reports false if no breaker exists.
func (r *Registry) Reset(name string) bool {
	cb, ok := r.Get(name)
	if !ok {
		return false
	}
	cb.Reset()
	return true
}

// ResetAll resets every breaker.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, cb := range r.breakers {
		cb.Reset()
	}
}

// Snapshots returns the state of every breaker, sorted by name.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb.Snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count returns the number of breakers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.breakers)
}
