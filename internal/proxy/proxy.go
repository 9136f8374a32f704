package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/backend"
)

const tracerName = "edgegw/proxy"

// Headers added to every forwarded request.
const (
	HeaderGatewayRequestID = "X-Gateway-Request-Id"
	HeaderGatewayService   = "X-Gateway-Service"
	HeaderGatewayTimestamp = "X-Gateway-Timestamp"
	HeaderUserID           = "X-User-Id"
	HeaderUserRole         = "X-User-Role"
)

// Target describes where and how to forward one request.
type Target struct {
	Service  string
	Prefix   string
	Instance *backend.Instance
	Timeout  time.Duration

	RequestID string
	UserID    string
	UserRole  string

	// ModifyResponse runs before the backend response headers are written.
	ModifyResponse func(*http.Response) error
}

// Result is the outcome of Forward. Err is nil when the backend answered,
// whatever its status.
type Result struct {
	StatusCode int
	Latency    time.Duration
	Err        *Error
}

// Proxy forwards requests to backend instances.
type Proxy struct {
	transport     http.RoundTripper
	logger        *zap.Logger
	metrics       *Metrics
	flushInterval time.Duration
	now           func() time.Time
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Proxy) {
		p.logger = logger
	}
}

// WithTransport sets the transport used for backend calls.
func WithTransport(transport http.RoundTripper) Option {
	return func(p *Proxy) {
		p.transport = transport
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(p *Proxy) {
		p.metrics = metrics
	}
}

// WithFlushInterval sets the flush interval for streamed responses.
func WithFlushInterval(interval time.Duration) Option {
	return func(p *Proxy) {
		p.flushInterval = interval
	}
}

// WithClock sets the time source for the gateway timestamp header.
func WithClock(now func() time.Time) Option {
	return func(p *Proxy) {
		p.now = now
	}
}

// NewTransport returns the default backend transport.
func NewTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 256
	t.MaxIdleConnsPerHost = 32
	t.IdleConnTimeout = 90 * time.Second
	return t
}

// New creates a proxy.
func New(opts ...Option) *Proxy {
	p := &Proxy{
		logger:        zap.NewNop(),
		flushInterval: -1,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.transport == nil {
		p.transport = NewTransport()
	}
	return p
}

// Forward sends r to target.Instance and streams the response to w. The
// backend call is bounded by target.Timeout and canceled when the client
// goes away. On failure nothing is written to w and Result.Err is set.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, target Target) (result Result) {
	base := target.Instance.URL()

	ctx, span := otel.Tracer(tracerName).Start(r.Context(), "proxy "+target.Service,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gateway.service", target.Service),
			attribute.String("server.address", base.Host),
		),
	)
	defer span.End()

	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	var proxyErr error
	rp := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			p.rewrite(pr, base, target)
		},
		Transport:     p.transport,
		FlushInterval: p.flushInterval,
		ErrorLog:      zap.NewStdLog(p.logger),
		ModifyResponse: func(resp *http.Response) error {
			result.StatusCode = resp.StatusCode
			if target.ModifyResponse != nil {
				return target.ModifyResponse(resp)
			}
			return nil
		},
		ErrorHandler: func(_ http.ResponseWriter, _ *http.Request, err error) {
			proxyErr = err
		},
	}

	start := time.Now()
	target.Instance.Acquire()
	defer func() {
		result.Latency = time.Since(start)
		target.Instance.Release(result.Latency)
		p.metrics.record(target.Service, result)
	}()

	rp.ServeHTTP(w, r.WithContext(ctx))

	if proxyErr != nil {
		result.Err = p.classify(r.Context(), ctx, target, base.String(), proxyErr)
		result.StatusCode = result.Err.Status
		span.RecordError(proxyErr)
		span.SetStatus(codes.Error, result.Err.Code)
		p.logger.Warn("proxy request failed",
			zap.String("service", target.Service),
			zap.String("target", base.String()),
			zap.String("requestID", target.RequestID),
			zap.String("code", result.Err.Code),
			zap.Error(proxyErr),
		)
		return result
	}

	span.SetAttributes(attribute.Int("http.response.status_code", result.StatusCode))
	if result.StatusCode >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(result.StatusCode))
	}
	return result
}

func (p *Proxy) classify(clientCtx, ctx context.Context, target Target, addr string, err error) *Error {
	switch {
	case clientCtx.Err() != nil:
		return newCanceledError(target.Service, addr, err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return newTimeoutError(target.Service, addr, err)
	default:
		return newUnavailableError(target.Service, addr, err)
	}
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest, base *url.URL, target Target) {
	out := pr.Out

	out.URL.Scheme = base.Scheme
	out.URL.Host = base.Host
	out.URL.Path = joinPath(base.Path, StripPrefix(pr.In.URL.Path, target.Prefix))
	out.URL.RawPath = ""
	out.URL.RawQuery = pr.In.URL.RawQuery
	out.Host = ""

	pr.SetXForwarded()

	// The response body is cached and recompressed by the gateway, so ask
	// for identity encoding.
	out.Header.Del("Accept-Encoding")

	out.Header.Del(HeaderUserID)
	out.Header.Del(HeaderUserRole)
	if target.RequestID != "" {
		out.Header.Set(HeaderGatewayRequestID, target.RequestID)
	}
	out.Header.Set(HeaderGatewayService, target.Service)
	out.Header.Set(HeaderGatewayTimestamp, p.now().UTC().Format(time.RFC3339Nano))
	if target.UserID != "" {
		out.Header.Set(HeaderUserID, target.UserID)
		if target.UserRole != "" {
			out.Header.Set(HeaderUserRole, target.UserRole)
		}
	}

	otel.GetTextMapPropagator().Inject(out.Context(), propagation.HeaderCarrier(out.Header))
}

// StripPrefix removes the service prefix from path. The result always
// starts with "/".
func StripPrefix(path, prefix string) string {
	if prefix != "" && prefix != "/" {
		path = strings.TrimPrefix(path, prefix)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	if path == "/" {
		return base
	}
	return base + path
}
