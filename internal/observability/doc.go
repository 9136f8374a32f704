// Package observability builds the process-wide logger, tracer provider and
// Prometheus registry.
//
//	logger, err := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//
// Logs are JSON with ISO8601 "timestamp", "level" and "msg" keys. Tracing
// exports over OTLP/gRPC and is off unless enabled.
package observability
