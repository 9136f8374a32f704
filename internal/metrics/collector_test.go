package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Record(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 3; i++ {
		c.Record("svc", "GET", 200, 100*time.Millisecond)
	}
	c.Record("svc", "GET", 500, 300*time.Millisecond)

	m, ok := c.Get("svc", "get")
	require.True(t, ok)
	assert.Equal(t, int64(4), m.RequestCount)
	assert.Equal(t, int64(1), m.ErrorCount)
	assert.Equal(t, float64(100), m.MinResponseTimeMs)
	assert.Equal(t, float64(300), m.MaxResponseTimeMs)
	assert.Equal(t, float64(150), m.AverageResponseTimeMs())

	s := c.ServiceSummary("svc")
	assert.Equal(t, int64(4), s.RequestCount)
	assert.Equal(t, int64(1), s.ErrorCount)
	assert.Equal(t, float64(150), s.AverageResponseTime)
	assert.Equal(t, 0.25, s.ErrorRate)
}

func TestCollector_ErrorThreshold(t *testing.T) {
	c := NewCollector()
	c.Record("svc", "GET", 399, time.Millisecond)
	c.Record("svc", "GET", 400, time.Millisecond)
	c.Record("svc", "GET", 404, time.Millisecond)

	m, _ := c.Get("svc", "GET")
	assert.Equal(t, int64(2), m.ErrorCount)
	assert.LessOrEqual(t, m.ErrorCount, m.RequestCount)
}

func TestCollector_ServiceSummaryAcrossMethods(t *testing.T) {
	c := NewCollector()
	c.Record("users", "GET", 200, 10*time.Millisecond)
	c.Record("users", "POST", 201, 30*time.Millisecond)
	c.Record("users-admin", "GET", 500, 1000*time.Millisecond)

	s := c.ServiceSummary("users")
	assert.Equal(t, int64(2), s.RequestCount)
	assert.Equal(t, int64(0), s.ErrorCount)
	assert.Equal(t, float64(20), s.AverageResponseTime)
	assert.Equal(t, float64(10), s.MinResponseTimeMs)
	assert.Equal(t, float64(30), s.MaxResponseTimeMs)

	assert.Equal(t, []string{"users", "users-admin"}, c.Services())
	assert.Equal(t, Summary{Service: "unknown"}, c.ServiceSummary("unknown"))
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector()
	c.Record("a", "GET", 200, time.Millisecond)
	c.Record("b", "GET", 200, time.Millisecond)

	c.Reset("a")
	_, ok := c.Get("a", "GET")
	assert.False(t, ok)
	_, ok = c.Get("b", "GET")
	assert.True(t, ok)

	c.Reset("")
	assert.Empty(t, c.Snapshot())
}

func TestCollector_Snapshot(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	c := NewCollector(WithClock(func() time.Time { return now }))
	c.Record("b", "GET", 200, time.Millisecond)
	c.Record("a", "POST", 200, time.Millisecond)
	c.Record("a", "GET", 200, time.Millisecond)

	snap := c.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].Service)
	assert.Equal(t, "GET", snap[0].Method)
	assert.Equal(t, "POST", snap[1].Method)
	assert.Equal(t, "b", snap[2].Service)
	assert.Equal(t, now, snap[0].LastRequestAt)
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				c.Record("svc", "GET", 200, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	m, _ := c.Get("svc", "GET")
	assert.Equal(t, int64(1000), m.RequestCount)
}

func TestCollector_Exporter(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := NewExporter("test", reg)
	c := NewCollector(WithExporter(e))

	c.Record("svc", "GET", 200, 50*time.Millisecond)
	c.Record("svc", "GET", 503, 50*time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(e.requestsTotal.WithLabelValues("svc", "GET", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.errorsTotal.WithLabelValues("svc", "GET")))
	assert.Equal(t, 1, testutil.CollectAndCount(e.requestDuration))
}

func TestExporter_Histogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(WithExporter(NewExporter("test", reg)))

	c.Record("svc", "GET", 200, 20*time.Millisecond)
	c.Record("svc", "GET", 200, 2*time.Second)

	families, err := reg.Gather()
	require.NoError(t, err)

	var hist *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "test_request_duration_seconds" {
			require.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())
			require.Len(t, mf.GetMetric(), 1)
			hist = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, hist)
	assert.Equal(t, uint64(2), hist.GetSampleCount())
	assert.InDelta(t, 2.02, hist.GetSampleSum(), 1e-9)
}
