package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/backend"
	"github.com/vyrodovalexey/edgegw/internal/cache"
	"github.com/vyrodovalexey/edgegw/internal/ratelimit"
)

// route is the compiled per-service state derived from a descriptor.
type route struct {
	limiter   ratelimit.Limiter
	limitKey  ratelimit.KeyFunc
	keys      cache.KeyGenerator
	condition cache.Condition
	cacheTTL  time.Duration
}

func (r *route) cached() bool {
	return r.cacheTTL > 0
}

// cacheKeyPrefix namespaces every cache entry of a service.
func cacheKeyPrefix(service string) string {
	return service + ":"
}

func (r *route) cacheKey(service string, req *http.Request) string {
	return cacheKeyPrefix(service) + r.keys.GenerateKey(req)
}

func (r *route) close() error {
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Close()
}

// compileRoute builds the route state for desc.
func (g *Gateway) compileRoute(desc *backend.ServiceDescriptor) (*route, error) {
	rt := &route{}

	if rl := desc.RateLimit; rl != nil {
		cfg := ratelimit.Config{
			RequestsPerSecond: rl.RequestsPerSecond,
			Burst:             rl.Burst,
			Store:             g.opts.RateLimit.Store,
		}
		if g.opts.RateLimit.Redis != nil {
			redisCfg := *g.opts.RateLimit.Redis
			cfg.Redis = &redisCfg
		}
		limiter, err := ratelimit.New(cfg, g.logger)
		if err != nil {
			return nil, fmt.Errorf("service %s rate limit: %w", desc.Name, err)
		}
		rt.limiter = limiter
		rt.limitKey = ratelimit.PrefixedKeyFunc(desc.Name, ratelimit.IPKeyFunc)
	}

	if cp := desc.Cache; cp != nil && cp.Enabled && cp.TTL > 0 {
		condition, err := cache.NewCELCondition(cp.Condition)
		if err != nil {
			_ = rt.close()
			return nil, fmt.Errorf("service %s cache condition: %w", desc.Name, err)
		}
		rt.condition = condition
		rt.cacheTTL = cp.TTL
		rt.keys = cache.NewKeyGenerator(&cache.KeyConfig{
			IncludeQuery: cp.IncludeQuery,
			Headers:      cp.Headers,
		})
	}

	return rt, nil
}

// route returns the compiled state of a service.
func (g *Gateway) route(name string) *route {
	g.routesMu.RLock()
	defer g.routesMu.RUnlock()
	return g.routes[name]
}

// cachedResponse is the stored form of a backend response.
type cachedResponse struct {
	Status int         `json:"status"`
	Header http.Header `json:"header"`
	Body   []byte      `json:"body"`
}

// uncachedHeaders are recomputed for every response served from cache.
var uncachedHeaders = []string{
	"Content-Length",
	HeaderResponseTime,
	HeaderCache,
	HeaderGatewayService,
	"X-Request-Id",
}

func newCachedResponse(resp *http.Response) *cachedResponse {
	header := resp.Header.Clone()
	for _, name := range uncachedHeaders {
		header.Del(name)
	}
	return &cachedResponse{Status: resp.StatusCode, Header: header}
}

// storable rejects responses that are private to one client.
func (r *cachedResponse) storable() bool {
	if len(r.Header.Values("Set-Cookie")) > 0 {
		return false
	}
	for _, v := range r.Header.Values("Cache-Control") {
		v = strings.ToLower(v)
		if strings.Contains(v, "no-store") || strings.Contains(v, "private") {
			return false
		}
	}
	return true
}

func (g *Gateway) loadResponse(ctx context.Context, key string) (*cachedResponse, bool) {
	payload, err := g.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			g.logger.Warn("cache lookup failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var stored cachedResponse
	if err := json.Unmarshal(payload, &stored); err != nil {
		g.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		_ = g.cache.Delete(ctx, key)
		return nil, false
	}
	return &stored, true
}

// serveCached writes a stored response.
func (g *Gateway) serveCached(x *Exchange, stored *cachedResponse) {
	h := x.Context.Writer.Header()
	for name, values := range stored.Header {
		h[name] = append([]string(nil), values...)
	}
	h.Set(HeaderCache, CacheHit)
	x.setResponseTime(h)

	x.Context.Status(stored.Status)
	if x.Request().Method == http.MethodHead {
		x.Context.Writer.WriteHeaderNow()
		return
	}
	if _, err := x.Context.Writer.Write(stored.Body); err != nil {
		g.logger.Debug("failed to write cached response",
			zap.String("service", x.Service.Name),
			zap.Error(err),
		)
	}
}

// storeResponse populates the cache after a successful forward.
func (g *Gateway) storeResponse(x *Exchange) {
	if x.cacheKey == "" || x.stored == nil || x.capture == nil || x.capture.overflow {
		return
	}
	if x.result == nil || x.result.Err != nil {
		return
	}
	if !x.route.condition.Cacheable(x.Request(), x.stored.Status) || !x.stored.storable() {
		return
	}

	x.stored.Body = x.capture.buf.Bytes()
	payload, err := json.Marshal(x.stored)
	if err != nil {
		g.logger.Warn("failed to encode response for cache", zap.Error(err))
		return
	}
	if err := g.cache.Set(context.WithoutCancel(x.Request().Context()), x.cacheKey, payload, x.route.cacheTTL); err != nil {
		g.logger.Warn("failed to store response in cache",
			zap.String("key", x.cacheKey),
			zap.Error(err),
		)
	}
}
