package circuitbreaker

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed lets every request through.
	StateClosed State = iota

	// StateOpen rejects every request until the reset timeout elapses.
	StateOpen

	// StateHalfOpen admits a limited number of trial requests.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is returned by Allow when the request must not reach the backend.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker is a closed/open/half-open state machine. The transition out
// of open happens lazily inside Allow; there is no background timer.
//
// Every state change and Reset starts a new generation. Allow returns the
// generation a request was admitted in, and outcomes reported for an older
// generation are ignored.
type CircuitBreaker struct {
	name    string
	config  *Config
	logger  *zap.Logger
	metrics *Metrics
	now     func() time.Time

	mu               sync.Mutex
	state            State
	generation       uint64
	failureCount     int
	successCount     int
	halfOpenInFlight int
	nextAttemptAt    time.Time
	lastFailureAt    time.Time
	lastSuccessAt    time.Time
	lastStateChange  time.Time
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cb *CircuitBreaker) {
		if logger != nil {
			cb.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(cb *CircuitBreaker) {
		cb.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// New creates a circuit breaker in the closed state.
func New(name string, config *Config, opts ...Option) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.clone()
	}
	config.Validate()

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: zap.NewNop(),
		now:    time.Now,
		state:  StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	cb.lastStateChange = cb.now()
	cb.metrics.recordState(name, StateClosed)

	return cb
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Allow reports whether a request may proceed and returns the generation the
// request was admitted in. An open breaker whose reset timeout has elapsed
// moves to half-open and admits the caller.
func (cb *CircuitBreaker) Allow() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if !now.Before(cb.nextAttemptAt) {
			cb.transitionTo(StateHalfOpen, now)
			cb.halfOpenInFlight = 1
			allowed = true
		}
	case StateHalfOpen:
		if cb.halfOpenInFlight < cb.config.HalfOpenMaxRequests {
			cb.halfOpenInFlight++
			allowed = true
		}
	}

	cb.metrics.recordRequest(cb.name, allowed)
	if !allowed {
		return cb.generation, ErrCircuitOpen
	}
	return cb.generation, nil
}

// Generation returns the current generation.
func (cb *CircuitBreaker) Generation() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.generation
}

// Release returns a slot admitted by Allow without recording an outcome, for
// requests that end before reaching the backend.
func (cb *CircuitBreaker) Release(generation uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if generation != cb.generation {
		return
	}
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}
}

// RecordSuccess records a successful backend call admitted in generation.
func (cb *CircuitBreaker) RecordSuccess(generation uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.current(generation) {
		return
	}

	now := cb.now()
	cb.successCount++
	cb.lastSuccessAt = now
	cb.metrics.recordOutcome(cb.name, true)

	switch cb.state {
	case StateHalfOpen:
		cb.transitionTo(StateClosed, now)
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure records a failed backend call admitted in generation.
func (cb *CircuitBreaker) RecordFailure(generation uint64) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.current(generation) {
		return
	}

	now := cb.now()
	cb.failureCount++
	cb.lastFailureAt = now
	cb.metrics.recordOutcome(cb.name, false)

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.transitionTo(StateOpen, now)
		}
	case StateHalfOpen:
		cb.transitionTo(StateOpen, now)
	}
}

// RecordResult classifies a backend outcome. Transport errors and 5xx
// responses are failures; everything else, including 4xx, is a success.
func (cb *CircuitBreaker) RecordResult(generation uint64, statusCode int, err error) {
	if IsFailure(statusCode, err) {
		cb.RecordFailure(generation)
		return
	}
	cb.RecordSuccess(generation)
}

// IsFailure reports whether an outcome counts against the breaker.
func IsFailure(statusCode int, err error) bool {
	return err != nil || statusCode >= http.StatusInternalServerError
}

// current reports whether generation is still live and counts a stale
// outcome otherwise. Must be called with cb.mu held.
func (cb *CircuitBreaker) current(generation uint64) bool {
	if generation == cb.generation {
		return true
	}
	cb.metrics.recordStale(cb.name)
	cb.logger.Debug("ignoring outcome from a previous generation",
		zap.String("name", cb.name),
		zap.Uint64("generation", generation),
		zap.Uint64("current", cb.generation),
	)
	return false
}

// transitionTo must be called with cb.mu held.
func (cb *CircuitBreaker) transitionTo(newState State, now time.Time) {
	oldState := cb.state
	cb.state = newState
	cb.generation++
	cb.lastStateChange = now
	cb.halfOpenInFlight = 0

	switch newState {
	case StateOpen:
		cb.nextAttemptAt = now.Add(cb.config.ResetTimeout)
	case StateClosed:
		cb.failureCount = 0
		cb.nextAttemptAt = time.Time{}
	case StateHalfOpen:
		cb.nextAttemptAt = time.Time{}
	}

	cb.metrics.recordTransition(cb.name, oldState, newState)

	cb.logger.Info("circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
		zap.Int("failures", cb.failureCount),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state without triggering the lazy transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset returns the breaker to closed with zeroed counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	old := cb.state
	cb.state = StateClosed
	cb.generation++
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenInFlight = 0
	cb.nextAttemptAt = time.Time{}
	cb.lastStateChange = now

	if old != StateClosed {
		cb.metrics.recordTransition(cb.name, old, StateClosed)
	}

	cb.logger.Info("circuit breaker reset",
		zap.String("name", cb.name),
		zap.String("from", old.String()),
	)
}

// Reconfigure swaps the configuration while keeping the current state.
func (cb *CircuitBreaker) Reconfigure(config *Config) {
	if config == nil {
		config = DefaultConfig()
	} else {
		config = config.clone()
	}
	config.Validate()

	cb.mu.Lock()
	cb.config = config
	cb.mu.Unlock()
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name            string     `json:"name"`
	State           State      `json:"state"`
	Generation      uint64     `json:"generation"`
	FailureCount    int        `json:"failureCount"`
	SuccessCount    int        `json:"successCount"`
	NextAttemptAt   *time.Time `json:"nextAttemptAt,omitempty"`
	LastFailureAt   *time.Time `json:"lastFailureAt,omitempty"`
	LastSuccessAt   *time.Time `json:"lastSuccessAt,omitempty"`
	LastStateChange time.Time  `json:"lastStateChange"`
}

// Snapshot returns the current state and counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Snapshot{
		Name:            cb.name,
		State:           cb.state,
		Generation:      cb.generation,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		NextAttemptAt:   timePtr(cb.nextAttemptAt),
		LastFailureAt:   timePtr(cb.lastFailureAt),
		LastSuccessAt:   timePtr(cb.lastSuccessAt),
		LastStateChange: cb.lastStateChange,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
