package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func statusServer(t *testing.T, status *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StatusHealthy, classify(http.StatusOK, nil))
	assert.Equal(t, StatusDegraded, classify(http.StatusNoContent, nil))
	assert.Equal(t, StatusDegraded, classify(http.StatusNotFound, nil))
	assert.Equal(t, StatusUnhealthy, classify(http.StatusInternalServerError, nil))
	assert.Equal(t, StatusUnhealthy, classify(http.StatusServiceUnavailable, nil))
	assert.Equal(t, StatusUnhealthy, classify(0, context.DeadlineExceeded))
}

func TestHealthMonitor_CheckNow(t *testing.T) {
	var okStatus, badStatus, degradedStatus atomic.Int32
	okStatus.Store(http.StatusOK)
	badStatus.Store(http.StatusBadGateway)
	degradedStatus.Store(http.StatusTooManyRequests)

	r := NewRegistry()
	require.NoError(t, r.Register(ServiceDescriptor{
		Name: "svc",
		Instances: []InstanceConfig{
			{URL: statusServer(t, &okStatus).URL},
			{URL: statusServer(t, &badStatus).URL},
			{URL: statusServer(t, &degradedStatus).URL},
		},
	}))

	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	var changes sync.Map
	m := NewHealthMonitor(r, HealthConfig{Timeout: time.Second}, WithHealthMetrics(metrics),
		WithStatusChangeCallback(func(service, instance string, from, to Status) {
			changes.Store(instance, to)
		}))

	assert.Equal(t, StatusUnknown, m.ServiceStatus("svc"))
	m.CheckNow(context.Background())

	instances := r.Instances("svc")
	assert.Equal(t, StatusHealthy, instances[0].Status())
	assert.Equal(t, StatusUnhealthy, instances[1].Status())
	assert.Equal(t, StatusDegraded, instances[2].Status())
	assert.Equal(t, StatusDegraded, m.ServiceStatus("svc"))

	check, ok := instances[1].LastCheck()
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, check.StatusCode)
	assert.NotEmpty(t, check.Error)

	to, ok := changes.Load(instances[0].String())
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, to)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.health.WithLabelValues("svc", instances[0].String())))
	assert.Equal(t, float64(3), testutil.ToFloat64(metrics.health.WithLabelValues("svc", instances[1].String())))
}

func TestHealthMonitor_TimeoutIsUnhealthy(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	r := NewRegistry()
	require.NoError(t, r.Register(ServiceDescriptor{Name: "slow", BaseURL: srv.URL}))

	m := NewHealthMonitor(r, HealthConfig{Timeout: 50 * time.Millisecond})
	start := time.Now()
	m.CheckNow(context.Background())

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusUnhealthy, r.Instances("slow")[0].Status())
}

func TestHealthMonitor_SkipsInactive(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(srv.Close)

	r := NewRegistry()
	require.NoError(t, r.Register(ServiceDescriptor{Name: "off", BaseURL: srv.URL, IsActive: boolPtr(false)}))

	NewHealthMonitor(r, DefaultHealthConfig()).CheckNow(context.Background())
	assert.Zero(t, hits.Load())
	assert.Equal(t, StatusUnknown, r.Instances("off")[0].Status())
}

func TestHealthMonitor_StartStop(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)

	r := NewRegistry()
	require.NoError(t, r.Register(ServiceDescriptor{Name: "svc", BaseURL: statusServer(t, &status).URL}))

	core, logs := observer.New(zap.InfoLevel)
	m := NewHealthMonitor(r, HealthConfig{Interval: 20 * time.Millisecond, Timeout: time.Second},
		WithHealthLogger(zap.New(core)))

	m.Start(context.Background())
	m.Start(context.Background())
	assert.True(t, m.IsRunning())

	assert.Eventually(t, func() bool {
		return r.Instances("svc")[0].Status() == StatusHealthy
	}, time.Second, 10*time.Millisecond)

	status.Store(http.StatusServiceUnavailable)
	assert.Eventually(t, func() bool {
		return r.Instances("svc")[0].Status() == StatusUnhealthy
	}, time.Second, 10*time.Millisecond)

	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())
	assert.Equal(t, 1, logs.FilterMessage("health monitor started").Len())
	assert.GreaterOrEqual(t, logs.FilterMessage("instance health changed").Len(), 2)
}

func TestAggregateStatus(t *testing.T) {
	mk := func(statuses ...Status) []*Instance {
		out := make([]*Instance, len(statuses))
		for i, s := range statuses {
			out[i] = &Instance{}
			out[i].SetStatus(s)
		}
		return out
	}

	assert.Equal(t, StatusUnknown, AggregateStatus(nil))
	assert.Equal(t, StatusUnknown, AggregateStatus(mk(StatusUnknown, StatusUnknown)))
	assert.Equal(t, StatusHealthy, AggregateStatus(mk(StatusHealthy, StatusHealthy)))
	assert.Equal(t, StatusUnhealthy, AggregateStatus(mk(StatusUnhealthy)))
	assert.Equal(t, StatusDegraded, AggregateStatus(mk(StatusHealthy, StatusUnhealthy)))
	assert.Equal(t, StatusDegraded, AggregateStatus(mk(StatusHealthy, StatusUnknown)))
}

func TestInstance_Latency(t *testing.T) {
	inst, err := NewInstance("http://x", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, inst.Weight())
	assert.Zero(t, inst.Latency())

	inst.Acquire()
	assert.Equal(t, int64(1), inst.InFlight())
	inst.Release(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, inst.Latency())

	inst.Acquire()
	inst.Release(200 * time.Millisecond)
	assert.InDelta(t, float64(130*time.Millisecond), float64(inst.Latency()), float64(time.Microsecond))
	assert.Zero(t, inst.InFlight())

	snap := inst.Snapshot()
	assert.Equal(t, "http://x", snap.URL)
	assert.Equal(t, uint64(2), snap.Requests)
	assert.InDelta(t, 130.0, snap.LatencyMs, 0.01)
	assert.Nil(t, snap.LastCheck)
}
