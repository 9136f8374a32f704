package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/gateway/server/http/middleware"
	"github.com/vyrodovalexey/edgegw/internal/proxy"
)

// Sentinel errors for gateway operations.
var (
	// ErrGatewayNotStopped indicates that the gateway is not in
	// stopped state when a start operation is attempted.
	ErrGatewayNotStopped = errors.New("gateway is not in stopped state")

	// ErrGatewayNotRunning indicates that the gateway is not
	// running when a stop operation is attempted.
	ErrGatewayNotRunning = errors.New("gateway is not running")

	// ErrInvalidOptions indicates that the provided options are invalid.
	ErrInvalidOptions = errors.New("invalid gateway options")
)

// Error codes produced by the routing pipeline and the management API.
const (
	CodeRouteNotFound            = "ROUTE_NOT_FOUND"
	CodeServiceNotFound          = "SERVICE_NOT_FOUND"
	CodeCircuitBreakerOpen       = "CIRCUIT_BREAKER_OPEN"
	CodeServiceRateLimitExceeded = "SERVICE_RATE_LIMIT_EXCEEDED"
	CodeMetricsDisabled          = "METRICS_DISABLED"
)

// Rejection is a terminal error response produced by a pipeline stage.
type Rejection struct {
	Status  int
	Code    string
	Message string
	Extra   map[string]any
	Headers http.Header
	Cause   error
}

// Error implements error.
func (r *Rejection) Error() string {
	if r.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", r.Code, r.Message, r.Cause)
	}
	return r.Code + ": " + r.Message
}

// Unwrap returns the underlying error.
func (r *Rejection) Unwrap() error {
	return r.Cause
}

// render writes the rejection through the shared error envelope.
func (r *Rejection) render(c *gin.Context) {
	for name, values := range r.Headers {
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	middleware.AbortWithError(c, r.Status, r.Code, r.Message, r.Extra)
}

func routeNotFound(path string) *Rejection {
	return &Rejection{
		Status:  http.StatusNotFound,
		Code:    CodeRouteNotFound,
		Message: "No service is registered for this path",
		Extra:   map[string]any{"path": path},
	}
}

func serviceNotFound(name string) *Rejection {
	return &Rejection{
		Status:  http.StatusNotFound,
		Code:    CodeServiceNotFound,
		Message: fmt.Sprintf("Service %q is not registered", name),
	}
}

func circuitOpen(service string, retryAfterSeconds int) *Rejection {
	return &Rejection{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeCircuitBreakerOpen,
		Message: "Service is temporarily unavailable",
		Extra:   map[string]any{"service": service},
		Headers: http.Header{"Retry-After": []string{strconv.Itoa(retryAfterSeconds)}},
	}
}

func serviceRateLimited(service string, retryAfterSeconds int) *Rejection {
	return &Rejection{
		Status:  http.StatusTooManyRequests,
		Code:    CodeServiceRateLimitExceeded,
		Message: "Too many requests for this service, please try again later",
		Extra: map[string]any{
			"service":    service,
			"retryAfter": retryAfterSeconds,
		},
	}
}

// fromAuthError converts an auth failure into a rejection.
func fromAuthError(err error) *Rejection {
	ae := auth.AsError(err)
	return &Rejection{
		Status:  ae.Status,
		Code:    ae.Code,
		Message: ae.Message,
		Extra:   ae.Details,
		Cause:   err,
	}
}

// fromProxyError converts a forwarding failure into a rejection.
func fromProxyError(err *proxy.Error) *Rejection {
	return &Rejection{
		Status:  err.Status,
		Code:    err.Code,
		Message: err.Message,
		Extra:   map[string]any{"service": err.Service},
		Cause:   err,
	}
}
