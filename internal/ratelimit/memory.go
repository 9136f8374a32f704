package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Default idle-key cleanup settings.
const (
	DefaultIdleTTL         = 10 * time.Minute
	DefaultCleanupInterval = time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	rps    rate.Limit
	burst  int
	logger *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	idleTTL   time.Duration
	stopCh    chan struct{}
	closeOnce sync.Once
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) MemoryOption {
	return func(l *MemoryLimiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithIdleTTL sets how long an unused key keeps its bucket.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(l *MemoryLimiter) {
		if d > 0 {
			l.idleTTL = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewMemoryLimiter creates a token bucket limiter refilling at rps up to burst.
// cleanupInterval <= 0 disables the idle-key janitor.
func NewMemoryLimiter(rps float64, burst int, cleanupInterval time.Duration, opts ...MemoryOption) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &MemoryLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  zap.NewNop(),
		now:     time.Now,
		buckets: make(map[string]*bucket),
		idleTTL: DefaultIdleTTL,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	if cleanupInterval > 0 {
		go l.janitor(cleanupInterval)
	}

	return l
}

// Allow implements Limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	lim := b.limiter
	l.mu.Unlock()

	res := Result{Limit: l.burst}

	reservation := lim.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		res.RetryAfter = delay
		res.ResetAfter = l.refillTime(lim.TokensAt(now))
		return res, nil
	}

	tokens := lim.TokensAt(now)
	res.Allowed = true
	res.Remaining = int(math.Max(0, math.Floor(tokens)))
	res.ResetAfter = l.refillTime(tokens)
	return res, nil
}

func (l *MemoryLimiter) refillTime(tokens float64) time.Duration {
	missing := float64(l.burst) - tokens
	if missing <= 0 || l.rps <= 0 {
		return 0
	}
	return time.Duration(missing / float64(l.rps) * float64(time.Second))
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Cleanup drops buckets idle for longer than the idle TTL.
func (l *MemoryLimiter) Cleanup() int {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
			removed++
		}
	}

	if removed > 0 {
		l.logger.Debug("cleaned up idle rate limit buckets",
			zap.Int("removed", removed),
			zap.Int("remaining", len(l.buckets)),
		)
	}
	return removed
}

func (l *MemoryLimiter) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup()
		case <-l.stopCh:
			return
		}
	}
}

// Close stops the janitor.
func (l *MemoryLimiter) Close() error {
	l.closeOnce.Do(func() { close(l.stopCh) })
	return nil
}
