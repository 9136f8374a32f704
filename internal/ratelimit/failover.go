package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// FailoverLimiter consults a primary (shared) limiter through a circuit
// breaker and answers from a local fallback while the primary is failing.
type FailoverLimiter struct {
	primary  Limiter
	fallback Limiter
	cb       *gobreaker.CircuitBreaker
	logger   *zap.Logger
}

// FailoverConfig tunes the breaker guarding the primary limiter.
type FailoverConfig struct {
	// ConsecutiveFailures opens the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the primary is skipped once the breaker opens.
	OpenTimeout time.Duration
}

// NewFailoverLimiter wraps primary with a gobreaker and a fallback limiter.
func NewFailoverLimiter(primary, fallback Limiter, cfg FailoverConfig, logger *zap.Logger) *FailoverLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}

	f := &FailoverLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}

	f.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-primary",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rate limit store breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return f
}

// Allow implements Limiter.
func (f *FailoverLimiter) Allow(ctx context.Context, key string) (Result, error) {
	out, err := f.cb.Execute(func() (interface{}, error) {
		return f.primary.Allow(ctx, key)
	})
	if err == nil {
		return out.(Result), nil
	}

	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		f.logger.Warn("primary rate limiter failed, using local fallback",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return f.fallback.Allow(ctx, key)
}

// State returns the breaker state guarding the primary limiter.
func (f *FailoverLimiter) State() gobreaker.State {
	return f.cb.State()
}

// Close closes both limiters.
func (f *FailoverLimiter) Close() error {
	return errors.Join(f.primary.Close(), f.fallback.Close())
}

// Ping checks the primary store when it supports it.
func (f *FailoverLimiter) Ping(ctx context.Context) error {
	if p, ok := f.primary.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
