package auth

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// TokenExtractor pulls a raw token from a request.
type TokenExtractor struct {
	Header string
	Cookie string
}

// Extract returns the token from the configured header, stripping an optional
// "Bearer " prefix, or from the configured cookie. It returns "" when neither
// carries a token.
func (e TokenExtractor) Extract(r *http.Request) string {
	if e.Header != "" {
		value := strings.TrimSpace(r.Header.Get(e.Header))
		if len(value) >= len(bearerPrefix) && strings.EqualFold(value[:len(bearerPrefix)], bearerPrefix) {
			value = strings.TrimSpace(value[len(bearerPrefix):])
		}
		if value != "" {
			return value
		}
	}

	if e.Cookie != "" {
		if cookie, err := r.Cookie(e.Cookie); err == nil && cookie.Value != "" {
			return cookie.Value
		}
	}

	return ""
}
