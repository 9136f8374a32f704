package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// KeyFunc extracts a rate limit key from a request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc uses the client IP as the key.
func IPKeyFunc(r *http.Request) string {
	return GetClientIP(r)
}

// PrefixedKeyFunc namespaces the keys produced by fn, e.g. per service.
func PrefixedKeyFunc(prefix string, fn KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		return prefix + ":" + fn(r)
	}
}

// GetClientIP extracts the client IP from the request.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
