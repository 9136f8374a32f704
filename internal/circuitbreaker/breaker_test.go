package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(t *testing.T, threshold int, timeout time.Duration) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg := DefaultConfig().WithFailureThreshold(threshold).WithResetTimeout(timeout)
	return New("svc", cfg, WithLogger(zap.NewNop()), WithClock(clock.Now)), clock
}

// fail admits a request and records its failure.
func fail(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	gen, err := cb.Allow()
	require.NoError(t, err)
	cb.RecordFailure(gen)
}

// succeed admits a request and records its success.
func succeed(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	gen, err := cb.Allow()
	require.NoError(t, err)
	cb.RecordSuccess(gen)
}

func allowErr(cb *CircuitBreaker) error {
	_, err := cb.Allow()
	return err
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half_open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, clock := newTestBreaker(t, 3, 30*time.Second)

	for i := 0; i < 2; i++ {
		fail(t, cb)
		assert.Equal(t, StateClosed, cb.State())
	}

	fail(t, cb)

	snap := cb.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	require.NotNil(t, snap.NextAttemptAt)
	assert.True(t, snap.NextAttemptAt.After(clock.Now()))
	assert.Equal(t, clock.Now().Add(30*time.Second), *snap.NextAttemptAt)
	require.NotNil(t, snap.LastFailureAt)

	// Rejected before nextAttemptAt.
	clock.Advance(29 * time.Second)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	cb, _ := newTestBreaker(t, 3, time.Second)

	fail(t, cb)
	fail(t, cb)
	succeed(t, cb)
	fail(t, cb)
	fail(t, cb)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Snapshot().FailureCount)
}

func TestCircuitBreaker_LazyHalfOpen(t *testing.T) {
	t.Run("success closes the circuit", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 1, 10*time.Second)
		fail(t, cb)
		require.Equal(t, StateOpen, cb.State())

		clock.Advance(10 * time.Second)
		// No transition without a request.
		assert.Equal(t, StateOpen, cb.State())

		gen, err := cb.Allow()
		require.NoError(t, err)
		assert.Equal(t, StateHalfOpen, cb.State())

		cb.RecordSuccess(gen)
		snap := cb.Snapshot()
		assert.Equal(t, StateClosed, snap.State)
		assert.Equal(t, 0, snap.FailureCount)
		assert.Nil(t, snap.NextAttemptAt)
		assert.NotNil(t, snap.LastSuccessAt)
	})

	t.Run("failure reopens with a new nextAttemptAt", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 1, 10*time.Second)
		fail(t, cb)
		first := *cb.Snapshot().NextAttemptAt

		clock.Advance(15 * time.Second)
		fail(t, cb)

		snap := cb.Snapshot()
		assert.Equal(t, StateOpen, snap.State)
		require.NotNil(t, snap.NextAttemptAt)
		assert.True(t, snap.NextAttemptAt.After(first))
		assert.Equal(t, clock.Now().Add(10*time.Second), *snap.NextAttemptAt)
	})

	t.Run("half-open admits limited trials", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 1, time.Second)
		fail(t, cb)
		clock.Advance(time.Second)

		require.NoError(t, allowErr(cb))
		assert.ErrorIs(t, allowErr(cb), ErrCircuitOpen)
	})
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(t, 1, time.Minute)
	succeed(t, cb)
	fail(t, cb)
	require.Equal(t, StateOpen, cb.State())
	before := cb.Generation()

	cb.Reset()

	snap := cb.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, 0, snap.SuccessCount)
	assert.Nil(t, snap.NextAttemptAt)
	assert.Greater(t, snap.Generation, before)
	assert.NoError(t, allowErr(cb))
}

func TestCircuitBreaker_RecordResult(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		err     error
		failure bool
	}{
		{name: "200 is success", status: 200},
		{name: "404 is success", status: 404},
		{name: "499 is success", status: 499},
		{name: "500 is failure", status: 500, failure: true},
		{name: "503 is failure", status: 503, failure: true},
		{name: "transport error is failure", err: errors.New("connection refused"), failure: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.failure, IsFailure(tt.status, tt.err))

			cb, _ := newTestBreaker(t, 1, time.Minute)
			gen, err := cb.Allow()
			require.NoError(t, err)
			cb.RecordResult(gen, tt.status, tt.err)
			if tt.failure {
				assert.Equal(t, StateOpen, cb.State())
			} else {
				assert.Equal(t, StateClosed, cb.State())
			}
		})
	}
}

func TestCircuitBreaker_ConcurrentFailuresAreCounted(t *testing.T) {
	cb, _ := newTestBreaker(t, 1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gen, err := cb.Allow()
			if err == nil {
				cb.RecordFailure(gen)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, cb.Snapshot().FailureCount)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	changes := make(chan State, 4)
	cfg := DefaultConfig().WithFailureThreshold(1).WithOnStateChange(func(_ string, _, to State) {
		changes <- to
	})
	cb := New("svc", cfg)

	fail(t, cb)

	select {
	case to := <-changes:
		assert.Equal(t, StateOpen, to)
	case <-time.After(time.Second):
		t.Fatal("state change callback not invoked")
	}
}

func TestCircuitBreaker_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	clock := newFakeClock()
	cb := New("orders", DefaultConfig().WithFailureThreshold(1), WithMetrics(m), WithClock(clock.Now))

	fail(t, cb)
	assert.ErrorIs(t, allowErr(cb), ErrCircuitOpen)

	assert.Equal(t, float64(StateOpen), testutil.ToFloat64(m.state.WithLabelValues("orders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("orders", "rejected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("orders", "failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.stateChanges.WithLabelValues("orders", "closed", "open")))
}

func TestConfig_Validate(t *testing.T) {
	cfg := &Config{}
	cfg.Validate()

	assert.Equal(t, DefaultFailureThreshold, cfg.FailureThreshold)
	assert.Equal(t, DefaultResetTimeout, cfg.ResetTimeout)
	assert.Equal(t, DefaultHalfOpenMaxRequests, cfg.HalfOpenMaxRequests)
}

func TestCircuitBreaker_ReleaseFreesHalfOpenSlot(t *testing.T) {
	cb, clock := newTestBreaker(t, 1, time.Second)

	fail(t, cb)
	clock.Advance(time.Second)

	first, err := cb.Allow()
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.ErrorIs(t, allowErr(cb), ErrCircuitOpen)

	cb.Release(first)
	trial, err := cb.Allow()
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess(trial)
	assert.Equal(t, StateClosed, cb.State())

	cb.Release(trial)
	assert.NoError(t, allowErr(cb))
}

func TestCircuitBreaker_StaleOutcomes(t *testing.T) {
	t.Run("success admitted while closed does not close a half-open breaker", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 2, 10*time.Second)

		slow, err := cb.Allow()
		require.NoError(t, err)

		fail(t, cb)
		fail(t, cb)
		require.Equal(t, StateOpen, cb.State())

		clock.Advance(10 * time.Second)
		trial, err := cb.Allow()
		require.NoError(t, err)
		require.Equal(t, StateHalfOpen, cb.State())

		cb.RecordSuccess(slow)
		assert.Equal(t, StateHalfOpen, cb.State())

		cb.RecordFailure(trial)
		snap := cb.Snapshot()
		assert.Equal(t, StateOpen, snap.State)
		require.NotNil(t, snap.NextAttemptAt)
		assert.Equal(t, clock.Now().Add(10*time.Second), *snap.NextAttemptAt)
	})

	t.Run("failure admitted while closed does not reopen a half-open breaker", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 1, 10*time.Second)

		slow, err := cb.Allow()
		require.NoError(t, err)
		fail(t, cb)
		clock.Advance(10 * time.Second)

		trial, err := cb.Allow()
		require.NoError(t, err)

		cb.RecordFailure(slow)
		assert.Equal(t, StateHalfOpen, cb.State())

		cb.RecordSuccess(trial)
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, 0, cb.Snapshot().FailureCount)
	})

	t.Run("outcome from before a reset is ignored", func(t *testing.T) {
		cb, _ := newTestBreaker(t, 1, time.Minute)

		gen, err := cb.Allow()
		require.NoError(t, err)
		cb.Reset()

		cb.RecordFailure(gen)
		assert.Equal(t, StateClosed, cb.State())
		assert.Equal(t, 0, cb.Snapshot().FailureCount)
	})

	t.Run("stale release keeps the trial slot taken", func(t *testing.T) {
		cb, clock := newTestBreaker(t, 1, time.Second)

		slow, err := cb.Allow()
		require.NoError(t, err)
		fail(t, cb)
		clock.Advance(time.Second)

		_, err = cb.Allow()
		require.NoError(t, err)

		cb.Release(slow)
		assert.ErrorIs(t, allowErr(cb), ErrCircuitOpen)
	})
}

func TestCircuitBreaker_StaleOutcomeMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	cb := New("orders", DefaultConfig().WithFailureThreshold(1), WithMetrics(m))

	gen, err := cb.Allow()
	require.NoError(t, err)
	cb.Reset()
	cb.RecordSuccess(gen)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.outcomes.WithLabelValues("orders", "stale")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.outcomes.WithLabelValues("orders", "success")))
}
