package gateway

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/edgegw/internal/proxy"
)

// Pipeline stage names.
const (
	StageResolve     = "resolve"
	StageBreaker     = "circuit_breaker"
	StageRateLimit   = "service_rate_limit"
	StageAuth        = "auth"
	StageRoles       = "roles"
	StagePermissions = "permissions"
	StageCache       = "cache"
	StageProxy       = "proxy"
)

// buildPipeline returns the ordered request stages.
func (g *Gateway) buildPipeline() []Interceptor {
	return []Interceptor{
		InterceptorFunc{Stage: StageResolve, Fn: g.resolve},
		InterceptorFunc{Stage: StageBreaker, Fn: g.gateBreaker},
		InterceptorFunc{Stage: StageRateLimit, Fn: g.limitService},
		InterceptorFunc{Stage: StageAuth, Fn: g.authenticate},
		InterceptorFunc{Stage: StageRoles, Fn: g.checkRoles},
		InterceptorFunc{Stage: StagePermissions, Fn: g.checkPermissions},
		InterceptorFunc{Stage: StageCache, Fn: g.lookupCache},
		InterceptorFunc{Stage: StageProxy, Fn: g.forward},
	}
}

// resolve finds the active service with the longest prefix covering the path.
func (g *Gateway) resolve(x *Exchange) *Rejection {
	path := x.Request().URL.Path
	desc, ok := g.registry.Match(path)
	if !ok {
		return routeNotFound(path)
	}

	x.Service = desc
	x.route = g.route(desc.Name)
	x.Context.Header(HeaderGatewayService, desc.Name)
	return nil
}

// gateBreaker consults the service's circuit breaker. A service removed
// after resolve has no breaker and is answered as unrouted.
func (g *Gateway) gateBreaker(x *Exchange) *Rejection {
	cb, ok := g.breakers.Get(x.Service.Name)
	if !ok {
		return routeNotFound(x.Request().URL.Path)
	}
	generation, err := cb.Allow()
	if err != nil {
		retryAfter := 1
		if next := cb.Snapshot().NextAttemptAt; next != nil {
			retryAfter = middleware.RetryAfterSeconds(time.Until(*next))
		}
		return circuitOpen(x.Service.Name, retryAfter)
	}
	x.breaker = cb
	x.generation = generation
	x.admitted = true
	return nil
}

// limitService applies the per-service limit keyed by client IP. Limiter
// failures let the request through.
func (g *Gateway) limitService(x *Exchange) *Rejection {
	if x.route == nil || x.route.limiter == nil {
		return nil
	}

	key := x.route.limitKey(x.Request())
	result, err := x.route.limiter.Allow(x.Request().Context(), key)
	if err != nil {
		g.logger.Error("service rate limit check failed",
			zap.String("service", x.Service.Name),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil
	}

	middleware.SetRateLimitHeaders(x.Context, result)
	if !result.Allowed {
		return serviceRateLimited(x.Service.Name, middleware.RetryAfterSeconds(result.RetryAfter))
	}
	return nil
}

// authenticate applies the service's effective auth mode for the path.
func (g *Gateway) authenticate(x *Exchange) *Rejection {
	x.AuthMode = x.Service.AuthPolicy.ModeFor(x.Request().URL.Path)
	if x.AuthMode == auth.ModeNone {
		return nil
	}

	if g.authenticator == nil {
		if x.AuthMode == auth.ModeRequired {
			return &Rejection{
				Status:  http.StatusInternalServerError,
				Code:    auth.CodeAuthError,
				Message: "Authentication is not configured",
				Extra:   map[string]any{"service": x.Service.Name},
			}
		}
		return nil
	}

	principal, err := g.authenticator.Authenticate(x.Request())
	if err != nil {
		if x.AuthMode == auth.ModeRequired {
			return fromAuthError(err)
		}
		if !errors.Is(err, auth.ErrMissingToken) {
			g.logger.Debug("ignoring invalid token on optional route",
				zap.String("service", x.Service.Name),
				zap.String("requestID", x.RequestID),
				zap.Error(err),
			)
		}
		return nil
	}

	x.Principal = principal
	auth.SetPrincipal(x.Context, principal)
	return nil
}

// checkRoles enforces the policy's roles. Gates only apply in required mode.
func (g *Gateway) checkRoles(x *Exchange) *Rejection {
	policy := x.Service.AuthPolicy
	if x.AuthMode != auth.ModeRequired || len(policy.Roles) == 0 {
		return nil
	}
	if err := g.authenticator.AuthorizeRoles(x.Principal, policy.Roles); err != nil {
		return fromAuthError(err)
	}
	return nil
}

// checkPermissions enforces the policy's permissions.
func (g *Gateway) checkPermissions(x *Exchange) *Rejection {
	policy := x.Service.AuthPolicy
	if x.AuthMode != auth.ModeRequired || len(policy.Permissions) == 0 {
		return nil
	}
	if err := g.authenticator.AuthorizePermissions(x.Principal, policy.Permissions); err != nil {
		return fromAuthError(err)
	}
	return nil
}

// lookupCache serves a fresh cached response, or arranges for the backend
// response to be captured.
func (g *Gateway) lookupCache(x *Exchange) *Rejection {
	if x.route == nil || !x.route.cached() {
		return nil
	}

	key := x.route.cacheKey(x.Service.Name, x.Request())
	if stored, ok := g.loadResponse(x.Request().Context(), key); ok {
		g.serveCached(x, stored)
		x.markServed()
		return nil
	}

	x.cacheKey = key
	x.capture = newCaptureWriter(x.Context.Writer, g.opts.Cache.MaxBodyBytes)
	x.Context.Writer = x.capture
	return nil
}

// forward picks an instance and proxies the request to it.
func (g *Gateway) forward(x *Exchange) *Rejection {
	name := x.Service.Name
	instance, err := g.balancer.Select(name, x.ClientIP)
	if err != nil {
		return &Rejection{
			Status:  http.StatusServiceUnavailable,
			Code:    proxy.CodeServiceUnavailable,
			Message: "No instance available for service",
			Extra:   map[string]any{"service": name},
			Cause:   err,
		}
	}

	target := proxy.Target{
		Service:   name,
		Prefix:    x.Service.PathPrefix,
		Instance:  instance,
		Timeout:   x.Service.Timeout,
		RequestID: x.RequestID,
		ModifyResponse: func(resp *http.Response) error {
			if x.capture != nil {
				x.stored = newCachedResponse(resp)
				resp.Header.Set(HeaderCache, CacheMiss)
			}
			x.setResponseTime(resp.Header)
			return nil
		},
	}
	if x.Principal != nil {
		target.UserID = x.Principal.ID
		target.UserRole = x.Principal.Role
	}

	result := g.proxy.Forward(x.Context.Writer, x.Request(), target)
	x.result = &result

	if result.Err == nil {
		x.markServed()
		return nil
	}
	if errors.Is(result.Err, proxy.ErrClientCanceled) {
		x.Context.Status(proxy.StatusClientClosedRequest)
		x.Context.Abort()
		x.markServed()
		return nil
	}
	return fromProxyError(result.Err)
}
