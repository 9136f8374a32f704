package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// fixedWindowScript increments the window counter and sets its expiry on
// the first hit. It returns the new count and the remaining TTL in ms.
// KEYS[1] = key
// ARGV[1] = window in milliseconds
var fixedWindowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	return {current, ttl}
`)

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	Prefix       string
	Window       time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:      "localhost:6379",
		Prefix:       "edgegw:ratelimit:",
		Window:       time.Second,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
}

func (c *RedisConfig) applyDefaults() {
	d := DefaultRedisConfig()
	if c.Address == "" {
		c.Address = d.Address
	}
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = d.DialTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
}

// RedisLimiter is a fixed window counter shared by every gateway instance
// pointing at the same Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	window time.Duration
	limit  int
	logger *zap.Logger
}

// NewRedisLimiter creates a limiter allowing ceil(rps * window) requests per window.
func NewRedisLimiter(cfg *RedisConfig, rps float64, logger *zap.Logger) *RedisLimiter {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return newRedisLimiterWithClient(client, cfg.Prefix, cfg.Window, rps, logger)
}

func newRedisLimiterWithClient(
	client *redis.Client,
	prefix string,
	window time.Duration,
	rps float64,
	logger *zap.Logger,
) *RedisLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := int(math.Ceil(rps * window.Seconds()))
	if limit < 1 {
		limit = 1
	}

	return &RedisLimiter{
		client: client,
		prefix: prefix,
		window: window,
		limit:  limit,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	vals, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("redis rate limit for %q: %w", key, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("redis rate limit for %q: unexpected reply length %d", key, len(vals))
	}

	count, ttlMs := vals[0], vals[1]
	resetAfter := time.Duration(ttlMs) * time.Millisecond
	if ttlMs < 0 {
		resetAfter = l.window
	}

	res := Result{
		Limit:      l.limit,
		ResetAfter: resetAfter,
	}
	if count > int64(l.limit) {
		res.RetryAfter = resetAfter
		return res, nil
	}

	res.Allowed = true
	res.Remaining = l.limit - int(count)
	return res, nil
}

// Ping checks connectivity.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
