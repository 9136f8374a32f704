package gateway

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/backend"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
	"github.com/vyrodovalexey/edgegw/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/edgegw/internal/proxy"
)

// Response headers set by the pipeline.
const (
	HeaderGatewayService = "X-Gateway-Service"
	HeaderResponseTime   = "X-Response-Time"
	HeaderCache          = "X-Cache"

	CacheHit  = "HIT"
	CacheMiss = "MISS"
)

// Exchange is the per-request state carried through the pipeline.
type Exchange struct {
	Context   *gin.Context
	RequestID string
	Start     time.Time
	ClientIP  string

	Service   *backend.ServiceDescriptor
	Principal *auth.Principal
	AuthMode  auth.Mode

	route      *route
	breaker    *circuitbreaker.CircuitBreaker
	generation uint64
	admitted   bool

	cacheKey string
	capture  *captureWriter
	stored   *cachedResponse

	result *proxy.Result
	served bool
}

// Request returns the inbound request.
func (x *Exchange) Request() *http.Request {
	return x.Context.Request
}

// Elapsed returns the time since the exchange started.
func (x *Exchange) Elapsed() time.Duration {
	return time.Since(x.Start)
}

// markServed stops the pipeline after a stage wrote the response itself.
func (x *Exchange) markServed() {
	x.served = true
}

func (x *Exchange) setResponseTime(h http.Header) {
	h.Set(HeaderResponseTime, formatResponseTime(x.Elapsed()))
}

func formatResponseTime(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

// Interceptor is one ordered stage of the request pipeline. It returns nil to
// continue or a rejection that ends the request. A stage that writes the
// response itself marks the exchange served.
type Interceptor interface {
	Name() string
	Intercept(x *Exchange) *Rejection
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc struct {
	Stage string
	Fn    func(x *Exchange) *Rejection
}

// Name implements Interceptor.
func (f InterceptorFunc) Name() string {
	return f.Stage
}

// Intercept implements Interceptor.
func (f InterceptorFunc) Intercept(x *Exchange) *Rejection {
	return f.Fn(x)
}

// handle is the NoRoute handler: every request that is not a management
// endpoint runs through the pipeline.
func (g *Gateway) handle(c *gin.Context) {
	ctx, span := g.tracer.Start(c.Request.Context(), "gateway.pipeline")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	x := &Exchange{
		Context:   c,
		RequestID: middleware.GetRequestID(c),
		Start:     time.Now(),
		ClientIP:  c.ClientIP(),
	}
	defer g.finish(x)

	for _, stage := range g.pipeline {
		rejection := stage.Intercept(x)
		if rejection != nil {
			span.SetAttributes(attribute.String("gateway.rejected_by", stage.Name()))
			span.SetStatus(codes.Error, rejection.Code)
			g.reject(x, stage.Name(), rejection)
			return
		}
		if x.served {
			return
		}
	}
}

func (g *Gateway) reject(x *Exchange, stage string, rejection *Rejection) {
	c := x.Context
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("code", rejection.Code),
		zap.Int("status", rejection.Status),
		zap.String("path", c.Request.URL.Path),
		zap.String("requestID", x.RequestID),
	}
	if x.Service != nil {
		fields = append(fields, zap.String("service", x.Service.Name))
	}
	if rejection.Cause != nil {
		fields = append(fields, zap.Error(rejection.Cause))
	}
	if rejection.Status >= http.StatusInternalServerError {
		g.logger.Warn("request rejected", fields...)
	} else {
		g.logger.Debug("request rejected", fields...)
	}

	x.setResponseTime(c.Writer.Header())
	rejection.render(c)
}

// finish runs after the response has been written, including when the
// proxy aborts the handler with a panic.
func (g *Gateway) finish(x *Exchange) {
	if x.Service == nil {
		return
	}
	name := x.Service.Name
	status := x.Context.Writer.Status()

	if !g.opts.MetricsDisabled {
		g.collector.Record(name, x.Context.Request.Method, status, x.Elapsed())
	}

	if x.admitted {
		switch {
		case x.result == nil:
			x.breaker.Release(x.generation)
		case x.result.Err != nil && x.result.Err.Code == proxy.CodeClientClosed:
			x.breaker.Release(x.generation)
		case x.result.Err != nil:
			x.breaker.RecordResult(x.generation, x.result.StatusCode, x.result.Err)
		default:
			x.breaker.RecordResult(x.generation, x.result.StatusCode, nil)
		}
	}

	g.storeResponse(x)
}

// captureWriter tees the response body into a bounded buffer for caching.
type captureWriter struct {
	gin.ResponseWriter
	buf      bytes.Buffer
	limit    int64
	overflow bool
}

func newCaptureWriter(w gin.ResponseWriter, limit int64) *captureWriter {
	return &captureWriter{ResponseWriter: w, limit: limit}
}

func (w *captureWriter) tee(b []byte) {
	if w.overflow {
		return
	}
	if int64(w.buf.Len()+len(b)) > w.limit {
		w.overflow = true
		w.buf.Reset()
		return
	}
	w.buf.Write(b)
}

// Write implements io.Writer.
func (w *captureWriter) Write(b []byte) (int, error) {
	w.tee(b)
	return w.ResponseWriter.Write(b)
}

// WriteString implements io.StringWriter.
func (w *captureWriter) WriteString(s string) (int, error) {
	w.tee([]byte(s))
	return w.ResponseWriter.WriteString(s)
}
