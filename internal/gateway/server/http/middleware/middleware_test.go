package middleware

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vyrodovalexey/edgegw/internal/ratelimit"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	t.Run("generates an id", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		id := w.Header().Get(RequestIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, w.Body.String())
	})

	t.Run("reuses an inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "abc-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "abc-123", w.Body.String())
	})
}

func TestAbortWithError(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/fail", func(c *gin.Context) {
		AbortWithError(c, http.StatusForbidden, "NOPE", "denied", map[string]any{
			"required": []string{"admin"},
			"success":  true,
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/fail", nil)
	req.Header.Set(RequestIDHeader, "rid")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"], "extra must not override fixed keys")
	assert.Equal(t, "denied", body["error"])
	assert.Equal(t, "NOPE", body["code"])
	assert.Equal(t, "rid", body["requestId"])
	assert.Equal(t, []any{"admin"}, body["required"])
	_, err := time.Parse(time.RFC3339Nano, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	router := gin.New()
	router.Use(RequestID(), Recovery(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, CodeGatewayError, decodeBody(t, w)["code"])
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	router := gin.New()
	router.Use(RequestID(), LoggingWithConfig(LoggingConfig{Logger: zap.New(core), SkipPaths: []string{"/skip"}}))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadGateway) })
	router.GET("/skip", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, p := range []string{"/ok", "/bad", "/skip"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, zap.ErrorLevel, entries[1].Level)
	assert.Equal(t, "/bad", entries[1].ContextMap()["path"])
}

func TestCORS(t *testing.T) {
	router := gin.New()
	router.Use(CORS(CORSConfig{AllowOrigins: []string{"https://app.example.com", "*.trusted.io"}}))
	router.GET("/r", func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantOrigin string
		wantStatus int
	}{
		{name: "allowed origin", method: http.MethodGet, origin: "https://app.example.com", wantOrigin: "https://app.example.com", wantStatus: http.StatusOK},
		{name: "wildcard subdomain", method: http.MethodGet, origin: "https://x.trusted.io", wantOrigin: "https://x.trusted.io", wantStatus: http.StatusOK},
		{name: "unknown origin", method: http.MethodGet, origin: "https://evil.com", wantOrigin: "", wantStatus: http.StatusOK},
		{name: "preflight", method: http.MethodOptions, origin: "https://app.example.com", preflight: true, wantOrigin: "https://app.example.com", wantStatus: http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/r", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "GET")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.preflight {
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "GET")
			}
		})
	}
}

func TestCompression(t *testing.T) {
	payload := strings.Repeat(`{"k":"value"}`, 200)

	router := gin.New()
	router.Use(Compression(CompressionConfig{}))
	router.GET("/json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(payload))
	})
	router.GET("/png", func(c *gin.Context) {
		c.Data(http.StatusOK, "image/png", []byte("binary"))
	})
	router.GET("/encoded", func(c *gin.Context) {
		c.Header("Content-Encoding", "br")
		c.Data(http.StatusOK, "application/json", []byte("already"))
	})

	t.Run("compresses json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/json", nil)
		req.Header.Set("Accept-Encoding", "br;q=1.0, gzip;q=0.8")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
		zr, err := gzip.NewReader(bytes.NewReader(w.Body.Bytes()))
		require.NoError(t, err)
		out, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, payload, string(out))
	})

	t.Run("client without gzip", func(t *testing.T) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/json", nil))
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, payload, w.Body.String())
	})

	t.Run("skips incompressible types", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/png", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Equal(t, "binary", w.Body.String())
	})

	t.Run("keeps existing encoding", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/encoded", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, "br", w.Header().Get("Content-Encoding"))
		assert.Equal(t, "already", w.Body.String())
	})
}

type fixedLimiter struct {
	result ratelimit.Result
	err    error
}

func (f fixedLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return f.result, f.err
}

func (fixedLimiter) Close() error { return nil }

func TestRateLimit(t *testing.T) {
	newRouter := func(l ratelimit.Limiter) *gin.Engine {
		router := gin.New()
		router.Use(RequestID(), RateLimit(RateLimitConfig{Limiter: l, SkipPaths: []string{"/health"}}))
		router.GET("/r", func(c *gin.Context) { c.Status(http.StatusOK) })
		router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
		return router
	}

	t.Run("rejects over the limit", func(t *testing.T) {
		router := newRouter(fixedLimiter{result: ratelimit.Result{Limit: 10, RetryAfter: 1500 * time.Millisecond}})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r", nil))

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "2", w.Header().Get("Retry-After"))
		assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
		body := decodeBody(t, w)
		assert.Equal(t, CodeRateLimitExceeded, body["code"])
		assert.Equal(t, float64(2), body["retryAfter"])
	})

	t.Run("skip paths", func(t *testing.T) {
		router := newRouter(fixedLimiter{result: ratelimit.Result{Limit: 10}})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		router := newRouter(fixedLimiter{err: assert.AnError})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("allows under the limit", func(t *testing.T) {
		router := newRouter(fixedLimiter{result: ratelimit.Result{Allowed: true, Limit: 10, Remaining: 9}})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r", nil))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
		assert.Empty(t, w.Header().Get("Retry-After"))
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(time.Second))
	assert.Equal(t, 2, RetryAfterSeconds(1001*time.Millisecond))
}
