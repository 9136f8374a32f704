// Package proxy forwards a request to one backend instance and reports the
// outcome so the caller can feed circuit breakers and metrics.
//
// The service path prefix is stripped, the query is preserved, hop-by-hop
// headers are dropped and X-Forwarded-* plus the X-Gateway-* headers are set.
// Failures are never retried here.
package proxy
