package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to clients.
const (
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeServiceTimeout     = "SERVICE_TIMEOUT"
	CodeClientClosed       = "CLIENT_CLOSED_REQUEST"
)

// StatusClientClosedRequest is the non-standard status recorded when the
// client goes away before the backend answers.
const StatusClientClosedRequest = 499

// Sentinel errors for proxy operations.
var (
	// ErrUpstreamTimeout indicates that the backend did not answer within the service timeout.
	ErrUpstreamTimeout = errors.New("upstream request timed out")

	// ErrUpstreamUnavailable indicates a transport failure talking to the backend.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrClientCanceled indicates that the client canceled the request.
	ErrClientCanceled = errors.New("client canceled request")
)

// Error describes a failed forward.
type Error struct {
	Status  int
	Code    string
	Message string
	Service string
	Target  string
	kind    error
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("proxy error service=%s target=%s: %s: %v", e.Service, e.Target, e.Message, e.Cause)
	}
	return fmt.Sprintf("proxy error service=%s target=%s: %s", e.Service, e.Target, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the error's kind sentinel.
func (e *Error) Is(target error) bool {
	return e.kind != nil && target == e.kind
}

func newTimeoutError(service, target string, cause error) *Error {
	return &Error{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeServiceTimeout,
		Message: "Service request timed out",
		Service: service,
		Target:  target,
		kind:    ErrUpstreamTimeout,
		Cause:   cause,
	}
}

func newUnavailableError(service, target string, cause error) *Error {
	return &Error{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeServiceUnavailable,
		Message: "Service temporarily unavailable",
		Service: service,
		Target:  target,
		kind:    ErrUpstreamUnavailable,
		Cause:   cause,
	}
}

func newCanceledError(service, target string, cause error) *Error {
	return &Error{
		Status:  StatusClientClosedRequest,
		Code:    CodeClientClosed,
		Message: "Client closed request",
		Service: service,
		Target:  target,
		kind:    ErrClientCanceled,
		Cause:   cause,
	}
}
