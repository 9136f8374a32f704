package config

import (
	"time"
)

// Default configuration values.
const (
	DefaultPort               = 8080
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 30 * time.Second
	DefaultIdleTimeout        = 120 * time.Second
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultMaxHeaderBytes     = 1 << 20
	DefaultMaxRequestBodySize = 10 << 20
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultLogOutput          = "stdout"
	DefaultMetricsNamespace   = "edgegw"
	DefaultTracingServiceName = "edgegw"
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultRateLimitStore     = "memory"
)

// Config is the gateway configuration file.
type Config struct {
	Version        string               `yaml:"version" json:"version"`
	Server         ServerConfig         `yaml:"server" json:"server"`
	Logging        LoggingConfig        `yaml:"logging" json:"logging"`
	Tracing        TracingConfig        `yaml:"tracing" json:"tracing"`
	Metrics        MetricsConfig        `yaml:"metrics" json:"metrics"`
	Auth           AuthConfig           `yaml:"auth" json:"auth"`
	HealthCheck    HealthCheckConfig    `yaml:"healthCheck" json:"healthCheck"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker" json:"circuitBreaker"`
	Cache          CacheConfig          `yaml:"cache" json:"cache"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit" json:"rateLimit"`
	CORS           CORSConfig           `yaml:"cors" json:"cors"`
	Compression    CompressionConfig    `yaml:"compression" json:"compression"`
	Vault          VaultConfig          `yaml:"vault" json:"vault"`
	Services       []ServiceConfig      `yaml:"services" json:"services"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address            string     `yaml:"address" json:"address"`
	Port               int        `yaml:"port" json:"port"`
	ReadTimeout        Duration   `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout       Duration   `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout        Duration   `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout    Duration   `yaml:"shutdownTimeout" json:"shutdownTimeout"`
	MaxHeaderBytes     int        `yaml:"maxHeaderBytes" json:"maxHeaderBytes"`
	MaxRequestBodySize int64      `yaml:"maxRequestBodySize" json:"maxRequestBodySize"`
	TLS                *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`
}

// TLSConfig points at a PEM certificate and key.
type TLSConfig struct {
	CertFile string `yaml:"certFile" json:"certFile"`
	KeyFile  string `yaml:"keyFile" json:"keyFile"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// TracingConfig configures the OTLP exporter.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Insecure    bool    `yaml:"insecure" json:"insecure"`
	SampleRate  float64 `yaml:"sampleRate" json:"sampleRate"`
	ServiceName string  `yaml:"serviceName" json:"serviceName"`
}

// MetricsConfig configures request metrics.
type MetricsConfig struct {
	Enabled   *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// IsEnabled reports whether metrics are collected. Defaults to true.
func (m MetricsConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// AuthConfig configures token verification. Secret may be a secret
// reference such as "env:JWT_SECRET" or "vault:secret/gateway#jwt".
type AuthConfig struct {
	Secret    string   `yaml:"secret" json:"-"`
	Header    string   `yaml:"header" json:"header"`
	Cookie    string   `yaml:"cookie" json:"cookie"`
	Issuer    string   `yaml:"issuer" json:"issuer"`
	Audience  string   `yaml:"audience" json:"audience"`
	ClockSkew Duration `yaml:"clockSkew" json:"clockSkew"`
}

// Enabled reports whether a secret is configured.
func (a AuthConfig) Enabled() bool {
	return a.Secret != ""
}

// HealthCheckConfig configures the active backend health monitor.
type HealthCheckConfig struct {
	Interval    Duration `yaml:"interval" json:"interval"`
	Timeout     Duration `yaml:"timeout" json:"timeout"`
	Concurrency int      `yaml:"concurrency" json:"concurrency"`
}

// CircuitBreakerConfig holds breaker settings, used as the gateway default
// and per service.
type CircuitBreakerConfig struct {
	FailureThreshold    int      `yaml:"failureThreshold" json:"failureThreshold"`
	ResetTimeout        Duration `yaml:"resetTimeout" json:"resetTimeout"`
	HalfOpenMaxRequests int      `yaml:"halfOpenMaxRequests" json:"halfOpenMaxRequests"`
}

// CacheConfig configures the shared response cache.
type CacheConfig struct {
	MaxEntries    int      `yaml:"maxEntries" json:"maxEntries"`
	SweepInterval Duration `yaml:"sweepInterval" json:"sweepInterval"`
	MaxBodyBytes  int64    `yaml:"maxBodyBytes" json:"maxBodyBytes"`
}

// RateLimitConfig configures the global limit and the limiter store.
type RateLimitConfig struct {
	Enabled           bool         `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64      `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int          `yaml:"burst" json:"burst"`
	Store             string       `yaml:"store" json:"store"`
	Redis             *RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the Redis limiter store. Password may be a secret
// reference.
type RedisConfig struct {
	Address      string   `yaml:"address" json:"address"`
	Password     string   `yaml:"password" json:"-"`
	DB           int      `yaml:"db" json:"db"`
	Prefix       string   `yaml:"prefix" json:"prefix"`
	Window       Duration `yaml:"window" json:"window"`
	DialTimeout  Duration `yaml:"dialTimeout" json:"dialTimeout"`
	ReadTimeout  Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout Duration `yaml:"writeTimeout" json:"writeTimeout"`
}

// CORSConfig configures the CORS middleware.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled" json:"enabled"`
	AllowOrigins     []string `yaml:"allowOrigins" json:"allowOrigins"`
	AllowMethods     []string `yaml:"allowMethods" json:"allowMethods"`
	AllowHeaders     []string `yaml:"allowHeaders" json:"allowHeaders"`
	ExposeHeaders    []string `yaml:"exposeHeaders" json:"exposeHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials" json:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge" json:"maxAge"`
}

// CompressionConfig configures gzip response compression.
type CompressionConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	Level        int      `yaml:"level" json:"level"`
	ContentTypes []string `yaml:"contentTypes" json:"contentTypes"`
}

// VaultConfig configures the Vault secret provider. Empty Address falls
// back to VAULT_ADDR.
type VaultConfig struct {
	Address   string   `yaml:"address" json:"address"`
	Token     string   `yaml:"token" json:"-"`
	Namespace string   `yaml:"namespace" json:"namespace"`
	Timeout   Duration `yaml:"timeout" json:"timeout"`
}

// ServiceConfig describes one backend service.
type ServiceConfig struct {
	Name            string                `yaml:"name" json:"name"`
	BaseURL         string                `yaml:"baseUrl" json:"baseUrl"`
	Instances       []InstanceConfig      `yaml:"instances,omitempty" json:"instances,omitempty"`
	PathPrefix      string                `yaml:"pathPrefix" json:"pathPrefix"`
	Timeout         Duration              `yaml:"timeout" json:"timeout"`
	Weight          int                   `yaml:"weight" json:"weight"`
	HealthCheckPath string                `yaml:"healthCheckPath" json:"healthCheckPath"`
	IsActive        *bool                 `yaml:"isActive,omitempty" json:"isActive,omitempty"`
	LoadBalancer    string                `yaml:"loadBalancer" json:"loadBalancer"`
	RateLimit       *ServiceRateLimit     `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
	Auth            *ServiceAuthConfig    `yaml:"auth,omitempty" json:"auth,omitempty"`
	CircuitBreaker  *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	Cache           *ServiceCacheConfig   `yaml:"cache,omitempty" json:"cache,omitempty"`
}

// Active reports whether the service receives traffic. Defaults to true.
func (s ServiceConfig) Active() bool {
	return s.IsActive == nil || *s.IsActive
}

// InstanceConfig is one backend instance.
type InstanceConfig struct {
	URL    string `yaml:"url" json:"url"`
	Weight int    `yaml:"weight" json:"weight"`
}

// ServiceRateLimit is a per-service token bucket.
type ServiceRateLimit struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// ServiceAuthConfig is a service's auth policy.
type ServiceAuthConfig struct {
	Mode        string   `yaml:"mode" json:"mode"`
	Roles       []string `yaml:"roles,omitempty" json:"roles,omitempty"`
	Permissions []string `yaml:"permissions,omitempty" json:"permissions,omitempty"`
	BypassPaths []string `yaml:"bypassPaths,omitempty" json:"bypassPaths,omitempty"`
}

// ServiceCacheConfig is a service's response cache policy.
type ServiceCacheConfig struct {
	Enabled      bool     `yaml:"enabled" json:"enabled"`
	TTL          Duration `yaml:"ttl" json:"ttl"`
	IncludeQuery bool     `yaml:"includeQuery" json:"includeQuery"`
	Headers      []string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Condition    string   `yaml:"condition,omitempty" json:"condition,omitempty"`
}

// DefaultConfig returns a configuration with every default applied and no
// services.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills unset fields. Service-level defaults are applied when
// the service is registered.
func (c *Config) SetDefaults() {
	s := &c.Server
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	setDuration(&s.ReadTimeout, DefaultReadTimeout)
	setDuration(&s.WriteTimeout, DefaultWriteTimeout)
	setDuration(&s.IdleTimeout, DefaultIdleTimeout)
	setDuration(&s.ShutdownTimeout, DefaultShutdownTimeout)
	if s.MaxHeaderBytes == 0 {
		s.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if s.MaxRequestBodySize == 0 {
		s.MaxRequestBodySize = DefaultMaxRequestBodySize
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = DefaultLogOutput
	}

	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultTracingServiceName
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	if c.RateLimit.Store == "" {
		c.RateLimit.Store = DefaultRateLimitStore
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d == 0 {
		*d = Duration(def)
	}
}
