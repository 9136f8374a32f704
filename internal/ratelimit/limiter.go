// Package ratelimit provides the gateway's global and per-service request
// rate limiting: an in-process token bucket, a Redis fixed window and a
// failover limiter that falls back to local state when Redis is unhealthy.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidConfig indicates an unusable limiter configuration.
var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow consumes one unit for key.
	Allow(ctx context.Context, key string) (Result, error)

	// Close releases background resources.
	Close() error
}

// Pinger is implemented by limiters backed by a remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Result describes a rate limit decision.
type Result struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Limit is the maximum number of requests in a window or bucket.
	Limit int

	// Remaining is how many more requests fit right now.
	Remaining int

	// ResetAfter is the time until the limit is fully replenished.
	ResetAfter time.Duration

	// RetryAfter is the time to wait when the request was rejected.
	RetryAfter time.Duration
}

// Store selects the limiter backend.
type Store string

// Supported stores.
const (
	StoreMemory Store = "memory"
	StoreRedis  Store = "redis"
)

// Config describes one limit.
type Config struct {
	RequestsPerSecond float64
	Burst             int
	Store             Store
	Redis             *RedisConfig
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.RequestsPerSecond <= 0 {
		return errors.Join(ErrInvalidConfig, errors.New("requestsPerSecond must be positive"))
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond)
		if c.Burst < 1 {
			c.Burst = 1
		}
	}
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.Store != StoreMemory && c.Store != StoreRedis {
		return errors.Join(ErrInvalidConfig, errors.New("unknown store "+string(c.Store)))
	}
	if c.Store == StoreRedis && c.Redis == nil {
		return errors.Join(ErrInvalidConfig, errors.New("redis store requires redis settings"))
	}
	return nil
}

type noopLimiter struct{}

// NewNoopLimiter returns a limiter that allows everything.
func NewNoopLimiter() Limiter {
	return noopLimiter{}
}

func (noopLimiter) Allow(context.Context, string) (Result, error) {
	return Result{Allowed: true}, nil
}

func (noopLimiter) Close() error { return nil }
