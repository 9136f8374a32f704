package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/backend"
	"github.com/vyrodovalexey/edgegw/internal/cache"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	httpserver "github.com/vyrodovalexey/edgegw/internal/gateway/server/http"
	"github.com/vyrodovalexey/edgegw/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/edgegw/internal/health"
	"github.com/vyrodovalexey/edgegw/internal/metrics"
	"github.com/vyrodovalexey/edgegw/internal/proxy"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway wires the registry, the resilience components and the request
// pipeline behind one gin engine.
type Gateway struct {
	opts   Options
	logger *zap.Logger
	tracer trace.Tracer

	registry      *backend.Registry
	balancer      *backend.LoadBalancer
	monitor       *backend.HealthMonitor
	breakers      *circuitbreaker.Registry
	cache         *cache.MemoryCache
	collector     *metrics.Collector
	authenticator *auth.Authenticator
	proxy         *proxy.Proxy
	health        *health.Checker
	globalLimiter ratelimit.Limiter

	routesMu sync.RWMutex
	routes   map[string]*route

	pipeline []Interceptor
	engine   *gin.Engine
	server   *httpserver.Server

	state     atomic.Int32
	startTime time.Time
	mu        sync.Mutex
}

// New builds a gateway and registers opts.Services.
func New(opts Options) (*Gateway, error) {
	opts.applyDefaults()
	ns, reg := opts.Namespace, opts.Registry

	g := &Gateway{
		opts:   opts,
		logger: opts.Logger,
		routes: make(map[string]*route),
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	g.tracer = tp.Tracer(middleware.TracerName)

	if opts.Auth != nil {
		authenticator, err := auth.NewAuthenticator(*opts.Auth,
			auth.WithLogger(g.logger.Named("auth")),
			auth.WithMetrics(auth.NewMetrics(ns, reg)),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
		g.authenticator = authenticator
	}

	if opts.RateLimit.Enabled {
		limiter, err := ratelimit.New(ratelimit.Config{
			RequestsPerSecond: opts.RateLimit.RequestsPerSecond,
			Burst:             opts.RateLimit.Burst,
			Store:             opts.RateLimit.Store,
			Redis:             opts.RateLimit.Redis,
		}, g.logger.Named("ratelimit"))
		if err != nil {
			return nil, fmt.Errorf("%w: global rate limit: %w", ErrInvalidOptions, err)
		}
		g.globalLimiter = limiter
	}

	g.registry = backend.NewRegistry(backend.WithRegistryLogger(g.logger.Named("registry")))
	g.balancer = backend.NewLoadBalancer(g.registry, g.logger.Named("balancer"))
	g.monitor = backend.NewHealthMonitor(g.registry, opts.Health,
		backend.WithHealthLogger(g.logger.Named("health")),
		backend.WithHealthMetrics(backend.NewMetrics(ns, reg)),
		backend.WithStatusChangeCallback(g.onInstanceStatusChange),
	)
	g.breakers = circuitbreaker.NewRegistry(opts.CircuitBreaker,
		circuitbreaker.WithRegistryLogger(g.logger.Named("circuitbreaker")),
		circuitbreaker.WithRegistryMetrics(circuitbreaker.NewMetrics(ns, reg)),
	)
	g.cache = cache.NewMemoryCache(
		cache.WithLogger(g.logger.Named("cache")),
		cache.WithMetrics(cache.NewMetrics(ns, reg)),
		cache.WithMaxEntries(opts.Cache.MaxEntries),
		cache.WithSweepInterval(opts.Cache.SweepInterval),
	)
	g.collector = metrics.NewCollector(metrics.WithExporter(metrics.NewExporter(ns, reg)))

	transport := opts.Transport
	if transport == nil {
		transport = proxy.NewTransport()
	}
	g.proxy = proxy.New(
		proxy.WithLogger(g.logger.Named("proxy")),
		proxy.WithTransport(transport),
		proxy.WithMetrics(proxy.NewMetrics(ns, reg)),
	)

	g.health = health.NewChecker(opts.Version,
		health.WithMetrics(health.NewMetrics(ns, reg)),
		health.WithStats(g.stats),
	)
	if pinger, ok := g.globalLimiter.(ratelimit.Pinger); ok {
		g.health.RegisterCheck("ratelimit_store", false, health.PingCheck(pinger.Ping))
	}

	g.registry.AddObserver(g)
	g.pipeline = g.buildPipeline()
	g.engine = g.buildEngine()
	g.server = httpserver.NewServer(opts.Server, g.engine, g.logger.Named("server"))
	g.state.Store(int32(StateStopped))

	var errs []error
	for _, desc := range opts.Services {
		if err := g.registry.Register(desc); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		g.release()
		return nil, fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	return g, nil
}

// buildEngine installs the global middleware, the management endpoints and
// the pipeline as the catch-all handler.
func (g *Gateway) buildEngine() *gin.Engine {
	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false
	engine.ContextWithFallback = true

	engine.Use(
		middleware.Recovery(g.logger),
		middleware.RequestID(),
		middleware.LoggingWithConfig(middleware.LoggingConfig{
			Logger:    g.logger.Named("access"),
			SkipPaths: []string{"/health", "/metrics/prometheus"},
		}),
	)
	if g.opts.CORS != nil {
		engine.Use(middleware.CORS(*g.opts.CORS))
	}
	if g.opts.Compression != nil {
		engine.Use(middleware.Compression(*g.opts.Compression))
	}
	if g.globalLimiter != nil {
		engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:   g.globalLimiter,
			Logger:    g.logger.Named("ratelimit"),
			SkipPaths: []string{"/health"},
		}))
	}
	engine.Use(middleware.Tracing(g.opts.TracerProvider))
	if g.opts.Server.MaxRequestBodySize > 0 {
		engine.Use(httpserver.MaxRequestBodySize(g.opts.Server.MaxRequestBodySize))
	}

	g.registerManagementRoutes(engine)
	engine.NoRoute(g.handle)

	return engine
}

// OnServiceRegistered implements backend.Observer.
func (g *Gateway) OnServiceRegistered(desc *backend.ServiceDescriptor) {
	name := desc.Name
	g.breakers.Configure(name, desc.CircuitBreaker)

	rt, err := g.compileRoute(desc)
	if err != nil {
		// Descriptors are validated on registration, so this only fires for
		// store failures such as an unusable Redis configuration.
		g.logger.Error("failed to compile service route, serving without limits or cache",
			zap.String("service", name),
			zap.Error(err),
		)
		rt = &route{}
	}

	g.routesMu.Lock()
	previous := g.routes[name]
	g.routes[name] = rt
	g.routesMu.Unlock()

	if previous != nil {
		_ = previous.close()
	}
	// A changed descriptor may change what is cacheable or how keys are built.
	g.cache.DeletePrefix(context.Background(), cacheKeyPrefix(name))

	g.health.RegisterCheck(serviceCheckName(name), false, g.serviceCheck(name))

	g.logger.Info("service registered",
		zap.String("service", name),
		zap.String("prefix", desc.PathPrefix),
		zap.Int("instances", len(g.registry.Instances(name))),
		zap.String("loadBalancer", string(desc.LoadBalancer)),
	)
}

// OnServiceRemoved implements backend.Observer.
func (g *Gateway) OnServiceRemoved(name string) {
	g.breakers.Remove(name)

	g.routesMu.Lock()
	rt := g.routes[name]
	delete(g.routes, name)
	g.routesMu.Unlock()
	if rt != nil {
		_ = rt.close()
	}

	g.cache.DeletePrefix(context.Background(), cacheKeyPrefix(name))
	g.collector.Reset(name)
	g.health.UnregisterCheck(serviceCheckName(name))

	g.logger.Info("service removed", zap.String("service", name))
}

func (g *Gateway) onInstanceStatusChange(service, instance string, from, to backend.Status) {
	g.logger.Info("instance health changed",
		zap.String("service", service),
		zap.String("instance", instance),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}

// ApplyServices reconciles the registry with descs: new and changed services
// are registered, services missing from descs are removed.
func (g *Gateway) ApplyServices(descs []backend.ServiceDescriptor) error {
	wanted := make(map[string]bool, len(descs))
	for _, desc := range descs {
		wanted[desc.Name] = true
	}
	var removed []string
	for _, name := range g.registry.Names() {
		if !wanted[name] {
			removed = append(removed, name)
		}
	}
	return g.UpdateServices(descs, removed)
}

// UpdateServices registers upserts and removes the named services. Invalid
// descriptors are skipped and reported together; the previous registration
// of a skipped service stays in place.
func (g *Gateway) UpdateServices(upserts []backend.ServiceDescriptor, removed []string) error {
	var errs []error
	for _, desc := range upserts {
		if err := g.registry.Register(desc); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range removed {
		g.registry.Remove(name)
	}
	return errors.Join(errs...)
}

// Start starts the health monitor and the HTTP server.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrGatewayNotStopped
	}

	g.logger.Info("starting gateway",
		zap.String("version", g.opts.Version),
		zap.Int("services", g.registry.Len()),
	)

	if err := g.server.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to start server: %w", err)
	}
	g.monitor.Start(context.WithoutCancel(ctx))

	g.mu.Lock()
	g.startTime = time.Now()
	g.mu.Unlock()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started", zap.Stringer("address", g.server.Addr()))
	return nil
}

// Stop shuts the server down gracefully and releases background resources.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return ErrGatewayNotRunning
	}

	g.logger.Info("stopping gateway")

	ctx, cancel := context.WithTimeout(ctx, g.opts.ShutdownTimeout)
	defer cancel()

	err := g.server.Stop(ctx)
	g.monitor.Stop()

	g.state.Store(int32(StateStopped))
	g.logger.Info("gateway stopped")
	return err
}

// Close stops a running gateway and releases the cache and every limiter.
// The gateway cannot be used afterwards.
func (g *Gateway) Close(ctx context.Context) error {
	var err error
	if g.IsRunning() {
		err = g.Stop(ctx)
	}
	g.release()
	return err
}

func (g *Gateway) release() {
	if err := g.cache.Close(); err != nil {
		g.logger.Warn("failed to close cache", zap.Error(err))
	}
	if g.globalLimiter != nil {
		_ = g.globalLimiter.Close()
	}
	g.routesMu.Lock()
	for _, rt := range g.routes {
		_ = rt.close()
	}
	g.routesMu.Unlock()
}

// Errors delivers fatal server errors.
func (g *Gateway) Errors() <-chan error {
	return g.server.Errors()
}

// State returns the current lifecycle state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning reports whether the gateway is serving.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the time since Start, or 0 when not running.
func (g *Gateway) Uptime() time.Duration {
	if !g.IsRunning() {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return time.Since(g.startTime)
}

// Addr returns the bound server address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	return g.server.Addr()
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.engine
}

// Registry returns the service registry.
func (g *Gateway) Registry() *backend.Registry {
	return g.registry
}

// Breakers returns the circuit breaker registry.
func (g *Gateway) Breakers() *circuitbreaker.Registry {
	return g.breakers
}

// Cache returns the response cache.
func (g *Gateway) Cache() *cache.MemoryCache {
	return g.cache
}

// Metrics returns the request metrics collector.
func (g *Gateway) Metrics() *metrics.Collector {
	return g.collector
}

// HealthMonitor returns the backend health monitor.
func (g *Gateway) HealthMonitor() *backend.HealthMonitor {
	return g.monitor
}
