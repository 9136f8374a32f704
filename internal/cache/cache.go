// Package cache provides the gateway's in-memory response cache: TTL expiry,
// least-recently-accessed eviction, request key derivation and per-route
// cacheability predicates.
package cache

import (
	"context"
	"errors"
	"time"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found or has expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidCondition indicates that a cacheability expression failed to compile.
	ErrInvalidCondition = errors.New("invalid cache condition")
)

// Cache is the interface the gateway uses to store responses.
type Cache interface {
	// Get returns the payload for key. Returns ErrCacheMiss if the key is
	// absent or stale.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores payload under key. A non-positive ttl is a no-op.
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Has reports whether a fresh entry exists without touching hit stats.
	Has(ctx context.Context, key string) bool

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every key starting with prefix and returns the count.
	DeletePrefix(ctx context.Context, prefix string) int

	// Clear removes every entry.
	Clear(ctx context.Context)

	// Stats returns cache statistics.
	Stats() Stats

	// Close stops background work.
	Close() error
}

// Stats contains cache statistics.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
	Capacity    int   `json:"capacity"`
}

// HitRate returns the hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// EntryInfo describes a stored entry without its payload.
type EntryInfo struct {
	Key            string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	TTL            time.Duration
	HitCount       int64
	Size           int
}
