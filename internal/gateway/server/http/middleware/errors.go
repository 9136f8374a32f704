// Package middleware provides the gin middleware shared by every gateway
// route and the uniform JSON error envelope.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// Error codes produced by the global middleware.
const (
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeGatewayError      = "GATEWAY_ERROR"
)

// ErrorBody builds the error envelope:
//
//	{"success": false, "error": ..., "code": ..., "requestId": ..., "timestamp": ...}
//
// Entries of extra are merged in without overriding the fixed keys.
func ErrorBody(c *gin.Context, code, message string, extra map[string]any) gin.H {
	body := gin.H{}
	for k, v := range extra {
		body[k] = v
	}
	body["success"] = false
	body["error"] = message
	body["code"] = code
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	if requestID := GetRequestID(c); requestID != "" {
		body["requestId"] = requestID
	}
	return body
}

// AbortWithError writes the error envelope and stops the handler chain.
func AbortWithError(c *gin.Context, status int, code, message string, extra map[string]any) {
	c.AbortWithStatusJSON(status, ErrorBody(c, code, message, extra))
}
