package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/backend"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	httpserver "github.com/vyrodovalexey/edgegw/internal/gateway/server/http"
	"github.com/vyrodovalexey/edgegw/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit"
)

// Default option values.
const (
	DefaultNamespace          = "edgegw"
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultCacheMaxEntries    = 1000
	DefaultCacheSweepInterval = 60 * time.Second
	DefaultCacheMaxBodyBytes  = 1 << 20
)

// CacheOptions configures the response cache.
type CacheOptions struct {
	MaxEntries    int
	SweepInterval time.Duration
	// MaxBodyBytes bounds the size of a stored response body.
	MaxBodyBytes int64
}

// RateLimitOptions configures the global limit and the store shared with
// per-service limits.
type RateLimitOptions struct {
	// Enabled turns on the global limit. Per-service limits only depend on
	// the service descriptors.
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	Store             ratelimit.Store
	Redis             *ratelimit.RedisConfig
}

// Options holds everything New needs. The zero value is usable.
type Options struct {
	Version string
	Logger  *zap.Logger

	Server          *httpserver.ServerConfig
	ShutdownTimeout time.Duration

	// Auth configures token verification. Nil disables it, in which case a
	// service requiring authentication answers AUTH_ERROR.
	Auth *auth.Config

	Health         backend.HealthConfig
	CircuitBreaker *circuitbreaker.Config
	Cache          CacheOptions
	RateLimit      RateLimitOptions

	CORS        *middleware.CORSConfig
	Compression *middleware.CompressionConfig

	// MetricsDisabled turns off the JSON metrics endpoint and the collector.
	MetricsDisabled bool
	Namespace       string
	Registry        *prometheus.Registry

	TracerProvider trace.TracerProvider
	Transport      http.RoundTripper

	Services []backend.ServiceDescriptor
}

func (o *Options) applyDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Server == nil {
		o.Server = httpserver.DefaultServerConfig()
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = DefaultShutdownTimeout
	}
	if o.Cache.MaxEntries <= 0 {
		o.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if o.Cache.SweepInterval <= 0 {
		o.Cache.SweepInterval = DefaultCacheSweepInterval
	}
	if o.Cache.MaxBodyBytes <= 0 {
		o.Cache.MaxBodyBytes = DefaultCacheMaxBodyBytes
	}
	if o.RateLimit.Store == "" {
		o.RateLimit.Store = ratelimit.StoreMemory
	}
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
}
