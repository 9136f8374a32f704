package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticCheck(status Status) CheckFunc {
	return func(context.Context) Check {
		return Check{Status: status}
	}
}

func TestChecker_Report(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]Status
		critical string
		expected Status
	}{
		{name: "no checks", expected: StatusHealthy},
		{
			name:     "all healthy",
			checks:   map[string]Status{"a": StatusHealthy, "b": StatusHealthy},
			expected: StatusHealthy,
		},
		{
			name:     "one degraded",
			checks:   map[string]Status{"a": StatusHealthy, "b": StatusDegraded},
			expected: StatusDegraded,
		},
		{
			name:     "one of two unhealthy",
			checks:   map[string]Status{"a": StatusHealthy, "b": StatusUnhealthy},
			expected: StatusDegraded,
		},
		{
			name:     "every probed check unhealthy",
			checks:   map[string]Status{"a": StatusUnhealthy, "b": StatusUnknown},
			expected: StatusUnhealthy,
		},
		{
			name:     "unknown only",
			checks:   map[string]Status{"a": StatusUnknown},
			expected: StatusHealthy,
		},
		{
			name:     "critical unhealthy",
			checks:   map[string]Status{"a": StatusHealthy, "redis": StatusUnhealthy},
			critical: "redis",
			expected: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker("test")
			for name, status := range tt.checks {
				c.RegisterCheck(name, name == tt.critical, staticCheck(status))
			}

			report := c.Report(context.Background())
			assert.Equal(t, tt.expected, report.Status)
			assert.Len(t, report.Checks, len(tt.checks))
		})
	}
}

func TestChecker_ReportFields(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewChecker("1.2.3",
		WithClock(func() time.Time { return now }),
		WithStats(func() map[string]any { return map[string]any{"services": 2} }),
	)
	now = now.Add(90 * time.Second)

	c.RegisterCheck("users", false, func(context.Context) Check { return Check{} })

	report := c.Report(context.Background())
	assert.Equal(t, "1.2.3", report.Version)
	assert.Equal(t, "1m30s", report.Uptime)
	assert.Equal(t, now, report.Timestamp)
	assert.Equal(t, StatusUnknown, report.Checks["users"].Status)
	assert.Equal(t, 2, report.Stats["services"])
}

func TestChecker_Unregister(t *testing.T) {
	c := NewChecker("")
	c.RegisterCheck("b", false, staticCheck(StatusHealthy))
	c.RegisterCheck("a", false, staticCheck(StatusHealthy))
	assert.Equal(t, []string{"a", "b"}, c.Names())

	c.UnregisterCheck("a")
	assert.Equal(t, []string{"b"}, c.Names())
}

func TestChecker_CheckTimeout(t *testing.T) {
	c := NewChecker("", WithCheckTimeout(20*time.Millisecond))
	c.RegisterCheck("slow", false, func(ctx context.Context) Check {
		<-ctx.Done()
		return Check{Status: StatusUnhealthy, Message: ctx.Err().Error()}
	})

	start := time.Now()
	report := c.Report(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusUnhealthy, report.Checks["slow"].Status)
}

func TestChecker_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	c := NewChecker("v1")
	c.RegisterCheck("users", false, staticCheck(StatusHealthy))

	router := gin.New()
	router.GET("/health", c.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var report Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, StatusHealthy, report.Checks["users"].Status)

	c.RegisterCheck("users", false, staticCheck(StatusUnhealthy))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck(func(context.Context) error { return nil })
	assert.Equal(t, StatusHealthy, ok(context.Background()).Status)

	failing := PingCheck(func(context.Context) error { return errors.New("connection refused") })
	result := failing(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.Equal(t, "connection refused", result.Message)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("edgegw", reg)

	c := NewChecker("", WithMetrics(m))
	c.RegisterCheck("users", false, staticCheck(StatusDegraded))
	c.Report(context.Background())

	assert.Equal(t, 0.5, testutil.ToFloat64(m.checkStatus.WithLabelValues("users")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("degraded")))

	c.UnregisterCheck("users")
	assert.Equal(t, 0, testutil.CollectAndCount(m.checkStatus))
}
