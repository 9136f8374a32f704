package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ConfigureKeepsState(t *testing.T) {
	r := NewRegistry(nil)

	cb := r.Configure("users", DefaultConfig().WithFailureThreshold(1))
	fail(t, cb)
	require.Equal(t, StateOpen, cb.State())

	again := r.Configure("users", DefaultConfig().WithFailureThreshold(10))
	assert.Same(t, cb, again)
	assert.Equal(t, StateOpen, again.State())
}

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry(DefaultConfig().WithFailureThreshold(2))

	cb := r.GetOrCreate("a")
	assert.Same(t, cb, r.GetOrCreate("a"))
	assert.Equal(t, 1, r.Count())

	fail(t, cb)
	assert.Equal(t, StateClosed, cb.State())
	fail(t, cb)
	assert.Equal(t, StateOpen, cb.State())
}

func TestRegistry_ResetAndRemove(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(DefaultConfig().WithFailureThreshold(1).WithResetTimeout(time.Minute),
		WithRegistryClock(clock.Now))

	fail(t, r.GetOrCreate("a"))
	fail(t, r.GetOrCreate("b"))

	assert.True(t, r.Reset("a"))
	assert.False(t, r.Reset("missing"))

	snaps := r.Snapshots()
	require.Len(t, snaps, 2)
	assert.Equal(t, "a", snaps[0].Name)
	assert.Equal(t, StateClosed, snaps[0].State)
	assert.Equal(t, StateOpen, snaps[1].State)

	r.ResetAll()
	b, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, StateClosed, b.State())

	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))
	_, ok = r.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())
}
