// Package gateway wires the edge gateway together.
//
// A Gateway owns the service registry, the health monitor, the load
// balancer, one circuit breaker per service, the response cache, the metrics
// collector and the authenticator. Requests that do not hit a management
// endpoint run through an ordered pipeline of interceptors:
//
//	resolve -> circuit_breaker -> service_rate_limit -> auth -> roles ->
//	permissions -> cache -> proxy
//
// Each stage either continues, rejects the request with a JSON error
// envelope, or serves the response itself. After the response is written the
// outcome is recorded in the metrics collector, the circuit breaker and, for
// cacheable responses, the cache.
//
// # Management endpoints
//
//	GET    /health
//	GET    /metrics
//	GET    /metrics/prometheus
//	GET    /gateway/services
//	GET    /gateway/services/:name
//	POST   /gateway/services/:name/circuit-breaker/reset
//	DELETE /gateway/cache?service=name
//
// # Usage
//
//	gw, err := gateway.New(gateway.Options{
//	    Logger:   logger,
//	    Services: services,
//	})
//	if err != nil {
//	    return err
//	}
//	if err := gw.Start(ctx); err != nil {
//	    return err
//	}
//	defer gw.Close(context.Background())
package gateway
