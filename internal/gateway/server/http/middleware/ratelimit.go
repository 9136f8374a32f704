package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/ratelimit"
)

// RateLimitConfig holds configuration for the global rate limit middleware.
type RateLimitConfig struct {
	Limiter   ratelimit.Limiter
	KeyFunc   ratelimit.KeyFunc
	Logger    *zap.Logger
	SkipPaths []string
}

// RateLimit rejects requests over the global limit with 429 RATE_LIMIT_EXCEEDED.
// Limiter errors fail open.
func RateLimit(config RateLimitConfig) gin.HandlerFunc {
	if config.Limiter == nil {
		config.Limiter = ratelimit.NewNoopLimiter()
	}
	if config.KeyFunc == nil {
		config.KeyFunc = ratelimit.IPKeyFunc
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	skipPaths := make(map[string]bool, len(config.SkipPaths))
	for _, path := range config.SkipPaths {
		skipPaths[path] = true
	}

	return func(c *gin.Context) {
		if skipPaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		key := config.KeyFunc(c.Request)
		result, err := config.Limiter.Allow(c.Request.Context(), key)
		if err != nil {
			config.Logger.Error("rate limit check failed",
				zap.String("key", key),
				zap.Error(err),
			)
			c.Next()
			return
		}

		SetRateLimitHeaders(c, result)
		if !result.Allowed {
			config.Logger.Debug("global rate limit exceeded",
				zap.String("key", key),
				zap.Int("limit", result.Limit),
			)
			AbortWithError(c, http.StatusTooManyRequests, CodeRateLimitExceeded,
				"Too many requests, please try again later",
				map[string]any{"retryAfter": RetryAfterSeconds(result.RetryAfter)})
			return
		}

		c.Next()
	}
}

// SetRateLimitHeaders writes X-RateLimit-* and, on rejection, Retry-After.
func SetRateLimitHeaders(c *gin.Context, result ratelimit.Result) {
	if result.Limit == 0 {
		return
	}
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(result.ResetAfter).Unix(), 10))
	if !result.Allowed {
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds(result.RetryAfter)))
	}
}

// RetryAfterSeconds rounds d up to whole seconds, minimum 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
