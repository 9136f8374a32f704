// Package backend keeps the set of backend services the gateway routes to,
// probes their instances for health and picks an instance per request.
//
// The Registry owns ServiceDescriptors and their live Instances. The
// HealthMonitor probes every instance of each active service on a fixed
// interval. The LoadBalancer selects an instance according to the service's
// Strategy, preferring instances the monitor has not marked unhealthy.
package backend
