package backend

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
)

type recordingObserver struct {
	mu         sync.Mutex
	registered []string
	removed    []string
}

func (o *recordingObserver) OnServiceRegistered(desc *ServiceDescriptor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registered = append(o.registered, desc.Name)
}

func (o *recordingObserver) OnServiceRemoved(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removed = append(o.removed, name)
}

func testService(name, baseURL string) ServiceDescriptor {
	return ServiceDescriptor{Name: name, BaseURL: baseURL}
}

func boolPtr(v bool) *bool {
	return &v
}

func TestRegistry_RegisterDefaults(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testService("users", "http://users:8080/")))

	d, ok := r.Get("users")
	require.True(t, ok)
	assert.Equal(t, "/users", d.PathPrefix)
	assert.Equal(t, DefaultTimeout, d.Timeout)
	assert.Equal(t, DefaultWeight, d.Weight)
	assert.Equal(t, DefaultHealthCheckPath, d.HealthCheckPath)
	assert.Equal(t, StrategyRoundRobin, d.LoadBalancer)
	require.NotNil(t, d.IsActive)
	assert.True(t, *d.IsActive)

	instances := r.Instances("users")
	require.Len(t, instances, 1)
	assert.Equal(t, "http://users:8080", instances[0].String())

	matched, ok := r.Match("/users/1")
	require.True(t, ok)
	assert.Equal(t, "users", matched.Name)
}

func TestServiceDescriptor_Active(t *testing.T) {
	assert.True(t, (&ServiceDescriptor{}).Active())
	assert.True(t, (&ServiceDescriptor{IsActive: boolPtr(true)}).Active())
	assert.False(t, (&ServiceDescriptor{IsActive: boolPtr(false)}).Active())

	d := &ServiceDescriptor{Name: "a", IsActive: boolPtr(false)}
	c := d.Clone()
	*c.IsActive = true
	assert.False(t, d.Active())
}

func TestRegistry_RegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		desc ServiceDescriptor
	}{
		{name: "empty name", desc: ServiceDescriptor{BaseURL: "http://x"}},
		{name: "no url", desc: ServiceDescriptor{Name: "a"}},
		{name: "bad scheme", desc: ServiceDescriptor{Name: "a", BaseURL: "ftp://x"}},
		{name: "missing host", desc: ServiceDescriptor{Name: "a", BaseURL: "http://"}},
		{name: "bad instance", desc: ServiceDescriptor{Name: "a", Instances: []InstanceConfig{{URL: "::"}}}},
		{name: "unknown strategy", desc: ServiceDescriptor{Name: "a", BaseURL: "http://x", LoadBalancer: "random"}},
		{name: "bad rate limit", desc: ServiceDescriptor{Name: "a", BaseURL: "http://x", RateLimit: &RateLimitPolicy{}}},
		{name: "bad auth mode", desc: ServiceDescriptor{Name: "a", BaseURL: "http://x", AuthPolicy: &auth.Policy{Mode: "maybe"}}},
		{name: "cache without ttl", desc: ServiceDescriptor{Name: "a", BaseURL: "http://x", Cache: &CachePolicy{Enabled: true}}},
		{name: "bad cache condition", desc: ServiceDescriptor{Name: "a", BaseURL: "http://x",
			Cache: &CachePolicy{Enabled: true, TTL: time.Minute, Condition: "response.status +"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.desc)
			assert.ErrorIs(t, err, ErrInvalidService)
		})
	}
}

func TestRegistry_ObserversAndRemove(t *testing.T) {
	r := NewRegistry()
	obs := &recordingObserver{}
	r.AddObserver(obs)

	require.NoError(t, r.Register(testService("a", "http://a")))
	require.NoError(t, r.Register(testService("a", "http://a2")))
	assert.True(t, r.Remove("a"))
	assert.False(t, r.Remove("a"))

	assert.Equal(t, []string{"a", "a"}, obs.registered)
	assert.Equal(t, []string{"a"}, obs.removed)
	assert.Zero(t, r.Len())
}

func TestRegistry_ReRegisterKeepsInstanceState(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testService("a", "http://a")))
	inst := r.Instances("a")[0]
	inst.SetStatus(StatusUnhealthy)

	desc := testService("a", "http://a")
	desc.Timeout = 5 * time.Second
	require.NoError(t, r.Register(desc))

	assert.Same(t, inst, r.Instances("a")[0])
	assert.Equal(t, StatusUnhealthy, r.Instances("a")[0].Status())

	require.NoError(t, r.Register(testService("a", "http://other")))
	assert.Equal(t, StatusUnknown, r.Instances("a")[0].Status())
}

func TestRegistry_Update(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testService("a", "http://a")))

	timeout := 2 * time.Second
	inactive := false
	updated, err := r.Update("a", ServicePatch{
		Timeout:        &timeout,
		IsActive:       &inactive,
		CircuitBreaker: &circuitbreaker.Config{FailureThreshold: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, timeout, updated.Timeout)
	assert.False(t, updated.Active())
	assert.Equal(t, "http://a", updated.BaseURL)
	assert.Equal(t, 2, updated.CircuitBreaker.FailureThreshold)
	assert.Equal(t, circuitbreaker.DefaultResetTimeout, updated.CircuitBreaker.ResetTimeout)

	_, err = r.Update("missing", ServicePatch{})
	assert.ErrorIs(t, err, ErrServiceNotFound)

	bad := "ftp://nope"
	_, err = r.Update("a", ServicePatch{BaseURL: &bad})
	assert.ErrorIs(t, err, ErrInvalidService)
}

func TestRegistry_Match(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ServiceDescriptor{Name: "api", BaseURL: "http://api", PathPrefix: "/api"}))
	require.NoError(t, r.Register(ServiceDescriptor{Name: "users", BaseURL: "http://users", PathPrefix: "/api/users/"}))
	require.NoError(t, r.Register(ServiceDescriptor{Name: "off", BaseURL: "http://off", PathPrefix: "/off", IsActive: boolPtr(false)}))

	tests := []struct {
		path string
		want string
	}{
		{path: "/api/users/1", want: "users"},
		{path: "/api/users", want: "users"},
		{path: "/api/usersx", want: "api"},
		{path: "/api", want: "api"},
		{path: "/apix", want: ""},
		{path: "/off/x", want: ""},
		{path: "/", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d, ok := r.Match(tt.path)
			if tt.want == "" {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, d.Name)
		})
	}
}

func TestRegistry_ListSortedAndCopies(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(testService("b", "http://b")))
	require.NoError(t, r.Register(testService("a", "http://a")))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Name)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	list[0].PathPrefix = "/mutated"
	d, _ := r.Get("a")
	assert.Equal(t, "/a", d.PathPrefix)
}

func TestRegistry_Instances(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(ServiceDescriptor{
		Name:   "multi",
		Weight: 4,
		Instances: []InstanceConfig{
			{URL: "http://one"},
			{URL: "http://two", Weight: 2},
		},
	}))

	instances := r.Instances("multi")
	require.Len(t, instances, 2)
	assert.Equal(t, 4, instances[0].Weight())
	assert.Equal(t, 2, instances[1].Weight())
	assert.Nil(t, r.Instances("missing"))
}
