package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/backend"
	"github.com/vyrodovalexey/edgegw/internal/cache"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/edgegw/internal/health"
	"github.com/vyrodovalexey/edgegw/internal/metrics"
)

func (g *Gateway) registerManagementRoutes(engine *gin.Engine) {
	engine.GET("/health", g.health.Handler())
	engine.GET("/metrics", g.handleMetrics)
	engine.GET("/metrics/prometheus", gin.WrapH(promhttp.HandlerFor(g.opts.Registry, promhttp.HandlerOpts{
		Registry: g.opts.Registry,
	})))

	admin := engine.Group("/gateway")
	admin.GET("/services", g.handleListServices)
	admin.GET("/services/:name", g.handleGetService)
	admin.POST("/services/:name/circuit-breaker/reset", g.handleResetBreaker)
	admin.DELETE("/cache", g.handlePurgeCache)
}

// serviceView is the management representation of a service.
type serviceView struct {
	*backend.ServiceDescriptor
	TimeoutMs      int64                      `json:"timeoutMs"`
	CacheTTLMs     int64                      `json:"cacheTtlMs,omitempty"`
	Status         backend.Status             `json:"status"`
	InstanceStates []backend.InstanceSnapshot `json:"instanceStates"`
	CircuitBreaker *circuitbreaker.Snapshot   `json:"circuitBreaker,omitempty"`
	Metrics        metrics.Summary            `json:"metrics"`
}

func (g *Gateway) viewService(desc *backend.ServiceDescriptor) serviceView {
	instances := g.registry.Instances(desc.Name)
	view := serviceView{
		ServiceDescriptor: desc,
		TimeoutMs:         desc.Timeout.Milliseconds(),
		Status:            backend.AggregateStatus(instances),
		InstanceStates:    make([]backend.InstanceSnapshot, 0, len(instances)),
		Metrics:           g.collector.ServiceSummary(desc.Name),
	}
	if desc.Cache != nil {
		view.CacheTTLMs = desc.Cache.TTL.Milliseconds()
	}
	for _, inst := range instances {
		view.InstanceStates = append(view.InstanceStates, inst.Snapshot())
	}
	if cb, ok := g.breakers.Get(desc.Name); ok {
		snap := cb.Snapshot()
		view.CircuitBreaker = &snap
	}
	return view
}

func (g *Gateway) handleListServices(c *gin.Context) {
	descs := g.registry.List()
	services := make([]serviceView, 0, len(descs))
	for _, desc := range descs {
		services = append(services, g.viewService(desc))
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"count":    len(services),
		"services": services,
	})
}

func (g *Gateway) handleGetService(c *gin.Context) {
	name := c.Param("name")
	desc, ok := g.registry.Get(name)
	if !ok {
		serviceNotFound(name).render(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"service": g.viewService(desc),
	})
}

func (g *Gateway) handleResetBreaker(c *gin.Context) {
	name := c.Param("name")
	cb, ok := g.breakers.Get(name)
	if _, registered := g.registry.Get(name); !ok || !registered {
		serviceNotFound(name).render(c)
		return
	}

	cb.Reset()
	g.logger.Info("circuit breaker reset via management API", zap.String("service", name))

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"message":        "Circuit breaker reset",
		"service":        name,
		"circuitBreaker": cb.Snapshot(),
	})
}

func (g *Gateway) handlePurgeCache(c *gin.Context) {
	ctx := c.Request.Context()

	if name := c.Query("service"); name != "" {
		if _, ok := g.registry.Get(name); !ok {
			serviceNotFound(name).render(c)
			return
		}
		removed := g.cache.DeletePrefix(ctx, cacheKeyPrefix(name))
		c.JSON(http.StatusOK, gin.H{"success": true, "service": name, "removed": removed})
		return
	}

	removed := g.cache.Len()
	g.cache.Clear(ctx)
	c.JSON(http.StatusOK, gin.H{"success": true, "removed": removed})
}

func (g *Gateway) handleMetrics(c *gin.Context) {
	if g.opts.MetricsDisabled {
		(&Rejection{
			Status:  http.StatusNotFound,
			Code:    CodeMetricsDisabled,
			Message: "Metrics are disabled",
		}).render(c)
		return
	}

	names := g.collector.Services()
	summaries := make(map[string]metrics.Summary, len(names))
	for _, name := range names {
		summaries[name] = g.collector.ServiceSummary(name)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"services":        summaries,
		"entries":         g.collector.Snapshot(),
		"circuitBreakers": g.breakers.Snapshots(),
		"cache":           g.cacheStats(),
	})
}

type cacheStatsView struct {
	cache.Stats
	HitRate float64 `json:"hitRate"`
}

func (g *Gateway) cacheStats() cacheStatsView {
	stats := g.cache.Stats()
	return cacheStatsView{Stats: stats, HitRate: stats.HitRate()}
}

// stats is embedded in every health report.
func (g *Gateway) stats() map[string]any {
	open := 0
	for _, snap := range g.breakers.Snapshots() {
		if snap.State != circuitbreaker.StateClosed {
			open++
		}
	}

	var requests, errs int64
	for _, name := range g.collector.Services() {
		summary := g.collector.ServiceSummary(name)
		requests += summary.RequestCount
		errs += summary.ErrorCount
	}

	return map[string]any{
		"state":                g.State().String(),
		"uptime":               g.Uptime().Round(time.Second).String(),
		"services":             g.registry.Len(),
		"openCircuitBreakers":  open,
		"totalRequests":        requests,
		"totalErrors":          errs,
		"cache":                g.cacheStats(),
		"healthMonitorRunning": g.monitor.IsRunning(),
	}
}

func serviceCheckName(service string) string {
	return "service:" + service
}

// serviceCheck reports a service's aggregated instance health and breaker
// state.
func (g *Gateway) serviceCheck(name string) health.CheckFunc {
	return func(context.Context) health.Check {
		desc, ok := g.registry.Get(name)
		if !ok {
			return health.Check{Status: health.StatusUnknown, Message: "not registered"}
		}
		if !desc.Active() {
			return health.Check{Status: health.StatusUnknown, Message: "inactive"}
		}

		instances := g.registry.Instances(name)
		snapshots := make([]backend.InstanceSnapshot, 0, len(instances))
		for _, inst := range instances {
			snapshots = append(snapshots, inst.Snapshot())
		}
		details := map[string]any{"instances": snapshots}
		if cb, ok := g.breakers.Get(name); ok {
			details["circuitBreaker"] = cb.State()
		}

		return health.Check{
			Status:  healthStatus(backend.AggregateStatus(instances)),
			Details: details,
		}
	}
}

func healthStatus(s backend.Status) health.Status {
	switch s {
	case backend.StatusHealthy:
		return health.StatusHealthy
	case backend.StatusDegraded:
		return health.StatusDegraded
	case backend.StatusUnhealthy:
		return health.StatusUnhealthy
	default:
		return health.StatusUnknown
	}
}
