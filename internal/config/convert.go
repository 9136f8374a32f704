package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"slices"

	"github.com/google/go-cmp/cmp"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/backend"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/edgegw/internal/gateway"
	httpserver "github.com/vyrodovalexey/edgegw/internal/gateway/server/http"
	"github.com/vyrodovalexey/edgegw/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit"
)

// SecretResolver turns a possibly referenced value into its plain text.
type SecretResolver func(ctx context.Context, value string) (string, error)

// ResolveSecrets replaces secret references in place.
func (c *Config) ResolveSecrets(ctx context.Context, resolve SecretResolver) error {
	fields := []struct {
		path  string
		value *string
	}{
		{"auth.secret", &c.Auth.Secret},
	}
	if c.RateLimit.Redis != nil {
		fields = append(fields, struct {
			path  string
			value *string
		}{"rateLimit.redis.password", &c.RateLimit.Redis.Password})
	}

	for _, f := range fields {
		if *f.value == "" {
			continue
		}
		resolved, err := resolve(ctx, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
		*f.value = resolved
	}
	return nil
}

// GatewayOptions maps the file onto gateway options. Logger, registry and
// tracer provider are left for the caller.
func (c *Config) GatewayOptions() (gateway.Options, error) {
	server := &httpserver.ServerConfig{
		Address:            c.Server.Address,
		Port:               c.Server.Port,
		ReadTimeout:        c.Server.ReadTimeout.Duration(),
		WriteTimeout:       c.Server.WriteTimeout.Duration(),
		IdleTimeout:        c.Server.IdleTimeout.Duration(),
		MaxHeaderBytes:     c.Server.MaxHeaderBytes,
		MaxRequestBodySize: c.Server.MaxRequestBodySize,
	}
	if t := c.Server.TLS; t != nil {
		cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
		if err != nil {
			return gateway.Options{}, fmt.Errorf("server.tls: %w", err)
		}
		server.TLS = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	opts := gateway.Options{
		Version:         c.Version,
		Server:          server,
		ShutdownTimeout: c.Server.ShutdownTimeout.Duration(),
		Health: backend.HealthConfig{
			Interval:    c.HealthCheck.Interval.Duration(),
			Timeout:     c.HealthCheck.Timeout.Duration(),
			Concurrency: c.HealthCheck.Concurrency,
		},
		CircuitBreaker: c.CircuitBreaker.breakerConfig(),
		Cache: gateway.CacheOptions{
			MaxEntries:    c.Cache.MaxEntries,
			SweepInterval: c.Cache.SweepInterval.Duration(),
			MaxBodyBytes:  c.Cache.MaxBodyBytes,
		},
		RateLimit: gateway.RateLimitOptions{
			Enabled:           c.RateLimit.Enabled,
			RequestsPerSecond: c.RateLimit.RequestsPerSecond,
			Burst:             c.RateLimit.Burst,
			Store:             ratelimit.Store(c.RateLimit.Store),
			Redis:             c.RateLimit.Redis.limiterConfig(),
		},
		MetricsDisabled: !c.Metrics.IsEnabled(),
		Namespace:       c.Metrics.Namespace,
		Services:        c.ServiceDescriptors(),
	}

	if c.Auth.Enabled() {
		a := auth.DefaultConfig()
		a.Secret = c.Auth.Secret
		if c.Auth.Header != "" {
			a.Header = c.Auth.Header
		}
		if c.Auth.Cookie != "" {
			a.Cookie = c.Auth.Cookie
		}
		a.Issuer = c.Auth.Issuer
		a.Audience = c.Auth.Audience
		a.ClockSkew = c.Auth.ClockSkew.Duration()
		opts.Auth = &a
	}

	if c.CORS.Enabled {
		cors := middleware.DefaultCORSConfig()
		if len(c.CORS.AllowOrigins) > 0 {
			cors.AllowOrigins = c.CORS.AllowOrigins
		}
		if len(c.CORS.AllowMethods) > 0 {
			cors.AllowMethods = c.CORS.AllowMethods
		}
		if len(c.CORS.AllowHeaders) > 0 {
			cors.AllowHeaders = c.CORS.AllowHeaders
		}
		if len(c.CORS.ExposeHeaders) > 0 {
			cors.ExposeHeaders = c.CORS.ExposeHeaders
		}
		cors.AllowCredentials = c.CORS.AllowCredentials
		if c.CORS.MaxAge > 0 {
			cors.MaxAge = c.CORS.MaxAge
		}
		opts.CORS = &cors
	}

	if c.Compression.Enabled {
		opts.Compression = &middleware.CompressionConfig{
			Level:        c.Compression.Level,
			ContentTypes: c.Compression.ContentTypes,
		}
	}

	return opts, nil
}

func (b CircuitBreakerConfig) breakerConfig() *circuitbreaker.Config {
	if b == (CircuitBreakerConfig{}) {
		return nil
	}
	cfg := &circuitbreaker.Config{
		FailureThreshold:    b.FailureThreshold,
		ResetTimeout:        b.ResetTimeout.Duration(),
		HalfOpenMaxRequests: b.HalfOpenMaxRequests,
	}
	cfg.Validate()
	return cfg
}

func (r *RedisConfig) limiterConfig() *ratelimit.RedisConfig {
	if r == nil {
		return nil
	}
	cfg := ratelimit.DefaultRedisConfig()
	cfg.Address = r.Address
	cfg.Password = r.Password
	cfg.DB = r.DB
	if r.Prefix != "" {
		cfg.Prefix = r.Prefix
	}
	if r.Window > 0 {
		cfg.Window = r.Window.Duration()
	}
	if r.DialTimeout > 0 {
		cfg.DialTimeout = r.DialTimeout.Duration()
	}
	if r.ReadTimeout > 0 {
		cfg.ReadTimeout = r.ReadTimeout.Duration()
	}
	if r.WriteTimeout > 0 {
		cfg.WriteTimeout = r.WriteTimeout.Duration()
	}
	return cfg
}

// ServiceDescriptors maps every configured service.
func (c *Config) ServiceDescriptors() []backend.ServiceDescriptor {
	descs := make([]backend.ServiceDescriptor, 0, len(c.Services))
	for _, s := range c.Services {
		descs = append(descs, s.Descriptor())
	}
	return descs
}

// Descriptor maps the service onto a registry descriptor.
func (s ServiceConfig) Descriptor() backend.ServiceDescriptor {
	desc := backend.ServiceDescriptor{
		Name:            s.Name,
		BaseURL:         s.BaseURL,
		PathPrefix:      s.PathPrefix,
		Timeout:         s.Timeout.Duration(),
		Weight:          s.Weight,
		HealthCheckPath: s.HealthCheckPath,
		IsActive:        s.IsActive,
		LoadBalancer:    backend.Strategy(s.LoadBalancer),
	}
	for _, inst := range s.Instances {
		desc.Instances = append(desc.Instances, backend.InstanceConfig{URL: inst.URL, Weight: inst.Weight})
	}
	if s.RateLimit != nil {
		desc.RateLimit = &backend.RateLimitPolicy{
			RequestsPerSecond: s.RateLimit.RequestsPerSecond,
			Burst:             s.RateLimit.Burst,
		}
	}
	if s.Auth != nil {
		desc.AuthPolicy = &auth.Policy{
			Mode:        auth.Mode(s.Auth.Mode),
			Roles:       slices.Clone(s.Auth.Roles),
			Permissions: slices.Clone(s.Auth.Permissions),
			BypassPaths: slices.Clone(s.Auth.BypassPaths),
		}
	}
	if s.CircuitBreaker != nil {
		desc.CircuitBreaker = s.CircuitBreaker.breakerConfig()
	}
	if s.Cache != nil {
		desc.Cache = &backend.CachePolicy{
			Enabled:      s.Cache.Enabled,
			TTL:          s.Cache.TTL.Duration(),
			IncludeQuery: s.Cache.IncludeQuery,
			Headers:      slices.Clone(s.Cache.Headers),
			Condition:    s.Cache.Condition,
		}
	}
	return desc
}

// ServiceDiff lists what changed between two service sets.
type ServiceDiff struct {
	Added   []ServiceConfig
	Updated []ServiceConfig
	Removed []string
}

// Empty reports whether nothing changed.
func (d ServiceDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Upserts returns the descriptors to register, added first.
func (d ServiceDiff) Upserts() []backend.ServiceDescriptor {
	descs := make([]backend.ServiceDescriptor, 0, len(d.Added)+len(d.Updated))
	for _, s := range d.Added {
		descs = append(descs, s.Descriptor())
	}
	for _, s := range d.Updated {
		descs = append(descs, s.Descriptor())
	}
	return descs
}

// DiffServices compares services by name.
func DiffServices(previous, next []ServiceConfig) ServiceDiff {
	old := make(map[string]ServiceConfig, len(previous))
	for _, s := range previous {
		old[s.Name] = s
	}

	var diff ServiceDiff
	seen := make(map[string]bool, len(next))
	for _, s := range next {
		seen[s.Name] = true
		prev, ok := old[s.Name]
		switch {
		case !ok:
			diff.Added = append(diff.Added, s)
		case !cmp.Equal(prev, s):
			diff.Updated = append(diff.Updated, s)
		}
	}
	for _, s := range previous {
		if !seen[s.Name] {
			diff.Removed = append(diff.Removed, s.Name)
		}
	}
	return diff
}
