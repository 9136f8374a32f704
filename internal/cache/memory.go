package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Default memory cache settings.
const (
	DefaultMaxEntries    = 1000
	DefaultSweepInterval = 60 * time.Second
)

const cacheTracerName = "edgegw/cache"

// MemoryCache is an LRU cache whose recency order is lastAccessedAt. The
// front of the list is the most recently accessed entry.
type MemoryCache struct {
	logger        *zap.Logger
	metrics       *Metrics
	maxEntries    int
	sweepInterval time.Duration
	now           func() time.Time

	mu       sync.Mutex
	items    map[string]*list.Element
	eviction *list.List

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	stopCh    chan struct{}
	closeOnce sync.Once
}

type memoryEntry struct {
	key            string
	payload        []byte
	createdAt      time.Time
	lastAccessedAt time.Time
	ttl            time.Duration
	hitCount       int64
}

func (e *memoryEntry) fresh(now time.Time) bool {
	return now.Sub(e.createdAt) <= e.ttl
}

// Option configures a MemoryCache.
type Option func(*MemoryCache)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *MemoryCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the Prometheus metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *MemoryCache) {
		c.metrics = m
	}
}

// WithMaxEntries sets the capacity.
func WithMaxEntries(n int) Option {
	return func(c *MemoryCache) {
		if n > 0 {
			c.maxEntries = n
		}
	}
}

// WithSweepInterval sets the background expiry sweep interval. A negative
// value disables the sweep.
func WithSweepInterval(d time.Duration) Option {
	return func(c *MemoryCache) {
		if d != 0 {
			c.sweepInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a memory cache and starts its sweep loop.
func NewMemoryCache(opts ...Option) *MemoryCache {
	c := &MemoryCache{
		logger:        zap.NewNop(),
		maxEntries:    DefaultMaxEntries,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
		items:         make(map[string]*list.Element),
		eviction:      list.New(),
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.sweepInterval > 0 {
		go c.sweepLoop()
	}

	c.logger.Info("memory cache initialized",
		zap.Int("maxEntries", c.maxEntries),
		zap.Duration("sweepInterval", c.sweepInterval))

	return c
}

// Get retrieves a fresh payload and records the access.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		c.metrics.miss()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	entry := elem.Value.(*memoryEntry)
	if !entry.fresh(now) {
		c.removeElement(elem)
		c.expirations++
		c.misses++
		c.metrics.miss()
		c.metrics.expired(1)
		c.metrics.size(c.eviction.Len())
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}

	entry.lastAccessedAt = now
	entry.hitCount++
	c.eviction.MoveToFront(elem)
	c.hits++
	c.metrics.hit()

	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.Int("cache.value_size", len(entry.payload)),
	)

	return entry.payload, nil
}

// Set stores payload under key, evicting the least recently accessed entry
// if a new key would exceed capacity.
func (c *MemoryCache) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int("cache.value_size", len(payload)),
		),
	)
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry := &memoryEntry{
		key:            key,
		payload:        payload,
		createdAt:      now,
		lastAccessedAt: now,
		ttl:            ttl,
	}

	if elem, ok := c.items[key]; ok {
		elem.Value = entry
		c.eviction.MoveToFront(elem)
		return nil
	}

	for c.eviction.Len() >= c.maxEntries {
		c.evictOldest()
	}

	c.items[key] = c.eviction.PushFront(entry)
	c.metrics.size(c.eviction.Len())

	c.logger.Debug("cache set",
		zap.String("key", key),
		zap.Duration("ttl", ttl),
		zap.Int("size", c.eviction.Len()))

	return nil
}

// Has reports whether a fresh entry exists. It does not change hit counts
// or recency; a stale entry is removed.
func (c *MemoryCache) Has(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	if !elem.Value.(*memoryEntry).fresh(c.now()) {
		c.removeElement(elem)
		c.expirations++
		c.metrics.expired(1)
		return false
	}
	return true
}

// Peek returns entry metadata without touching stats or recency.
func (c *MemoryCache) Peek(key string) (EntryInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return EntryInfo{}, false
	}
	e := elem.Value.(*memoryEntry)
	return EntryInfo{
		Key:            e.key,
		CreatedAt:      e.createdAt,
		LastAccessedAt: e.lastAccessedAt,
		TTL:            e.ttl,
		HitCount:       e.hitCount,
		Size:           len(e.payload),
	}, true
}

// Delete removes key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
		c.metrics.size(c.eviction.Len())
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (c *MemoryCache) DeletePrefix(_ context.Context, prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(elem)
			removed++
		}
	}
	c.metrics.size(c.eviction.Len())
	return removed
}

// Clear removes every entry.
func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.metrics.size(0)
}

// Len returns the number of stored entries, fresh or not.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.eviction.Len()
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Size:        c.eviction.Len(),
		Capacity:    c.maxEntries,
	}
}

// Close stops the sweep loop and drops all entries.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.Clear(context.Background())
		c.logger.Info("memory cache closed")
	})
	return nil
}

// Sweep removes every expired entry and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expired []*list.Element
	for elem := c.eviction.Back(); elem != nil; elem = elem.Prev() {
		if !elem.Value.(*memoryEntry).fresh(now) {
			expired = append(expired, elem)
		}
	}
	for _, elem := range expired {
		c.removeElement(elem)
	}

	if n := len(expired); n > 0 {
		c.expirations += int64(n)
		c.metrics.expired(n)
		c.metrics.size(c.eviction.Len())
		c.logger.Debug("cache sweep completed", zap.Int("removed", n))
	}
	return len(expired)
}

func (c *MemoryCache) sweepLoop() {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}

// evictOldest must be called with c.mu held.
func (c *MemoryCache) evictOldest() {
	elem := c.eviction.Back()
	if elem == nil {
		return
	}
	c.removeElement(elem)
	c.evictions++
	c.metrics.evicted()
	c.logger.Debug("cache evicted least recently accessed entry",
		zap.String("key", elem.Value.(*memoryEntry).key))
}

// removeElement must be called with c.mu held.
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	delete(c.items, elem.Value.(*memoryEntry).key)
}
