package backend

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/cache"
	"github.com/vyrodovalexey/edgegw/internal/circuitbreaker"
)

// Descriptor defaults.
const (
	DefaultTimeout         = 30 * time.Second
	DefaultWeight          = 1
	DefaultHealthCheckPath = "/health"
)

// Strategy names a load balancing algorithm.
type Strategy string

// Load balancing strategies.
const (
	StrategyRoundRobin         Strategy = "round_robin"
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"
	StrategyLeastConnections   Strategy = "least_connections"
	StrategyLeastResponseTime  Strategy = "least_response_time"
	StrategyIPHash             Strategy = "ip_hash"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyLeastConnections,
		StrategyLeastResponseTime, StrategyIPHash:
		return true
	default:
		return false
	}
}

// InstanceConfig configures one instance of a service.
type InstanceConfig struct {
	URL    string `json:"url"`
	Weight int    `json:"weight"`
}

// RateLimitPolicy is a per-service token bucket.
type RateLimitPolicy struct {
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
}

// CachePolicy controls response caching for a service.
type CachePolicy struct {
	Enabled bool          `json:"enabled"`
	TTL     time.Duration `json:"-"`
	// IncludeQuery adds the sorted query string to the cache key.
	IncludeQuery bool `json:"includeQuery,omitempty"`
	// Headers are added to the cache key.
	Headers []string `json:"headers,omitempty"`
	// Condition is a CEL expression deciding cacheability. Empty means GET and 200.
	Condition string `json:"condition,omitempty"`
}

// ServiceDescriptor is the configuration of one backend service.
type ServiceDescriptor struct {
	Name            string           `json:"name"`
	BaseURL         string           `json:"baseUrl"`
	Instances       []InstanceConfig `json:"instances,omitempty"`
	PathPrefix      string           `json:"pathPrefix"`
	Timeout         time.Duration    `json:"-"`
	Weight          int              `json:"weight"`
	HealthCheckPath string           `json:"healthCheckPath"`
	IsActive        *bool            `json:"isActive"`
	LoadBalancer    Strategy         `json:"loadBalancer"`

	RateLimit      *RateLimitPolicy       `json:"rateLimit,omitempty"`
	AuthPolicy     *auth.Policy           `json:"authPolicy,omitempty"`
	CircuitBreaker *circuitbreaker.Config `json:"-"`
	Cache          *CachePolicy           `json:"cache,omitempty"`
}

// normalize applies defaults and validates d in place.
func (d *ServiceDescriptor) normalize() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidService)
	}
	if d.BaseURL == "" && len(d.Instances) == 0 {
		return fmt.Errorf("%w: %s: baseUrl or instances is required", ErrInvalidService, d.Name)
	}
	if d.BaseURL != "" {
		if _, err := parseInstanceURL(d.BaseURL); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidService, d.Name, err)
		}
	}
	for _, inst := range d.Instances {
		if _, err := parseInstanceURL(inst.URL); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidService, d.Name, err)
		}
	}

	if d.IsActive == nil {
		active := true
		d.IsActive = &active
	}
	if d.Weight < 1 {
		d.Weight = DefaultWeight
	}
	if d.PathPrefix == "" {
		d.PathPrefix = "/" + d.Name
	}
	if !strings.HasPrefix(d.PathPrefix, "/") {
		d.PathPrefix = "/" + d.PathPrefix
	}
	if len(d.PathPrefix) > 1 {
		d.PathPrefix = strings.TrimRight(d.PathPrefix, "/")
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	if d.HealthCheckPath == "" {
		d.HealthCheckPath = DefaultHealthCheckPath
	}
	if d.LoadBalancer == "" {
		d.LoadBalancer = StrategyRoundRobin
	}
	if !d.LoadBalancer.Valid() {
		return fmt.Errorf("%w: %s: unknown load balancer %q", ErrInvalidService, d.Name, d.LoadBalancer)
	}
	if d.RateLimit != nil && d.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("%w: %s: rate limit requestsPerSecond must be positive", ErrInvalidService, d.Name)
	}
	if d.AuthPolicy != nil && d.AuthPolicy.Mode != "" && !d.AuthPolicy.Mode.Valid() {
		return fmt.Errorf("%w: %s: unknown auth mode %q", ErrInvalidService, d.Name, d.AuthPolicy.Mode)
	}
	if d.CircuitBreaker != nil {
		d.CircuitBreaker.Validate()
	}
	if d.Cache != nil && d.Cache.Enabled {
		if d.Cache.TTL <= 0 {
			return fmt.Errorf("%w: %s: cache ttl must be positive", ErrInvalidService, d.Name)
		}
		if _, err := cache.NewCELCondition(d.Cache.Condition); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidService, d.Name, err)
		}
	}
	return nil
}

// Active reports whether the service is routed and health checked. An unset
// IsActive means active.
func (d *ServiceDescriptor) Active() bool {
	return d.IsActive == nil || *d.IsActive
}

// instanceConfigs returns the effective instance list: the configured
// instances, or the base URL with the descriptor weight.
func (d *ServiceDescriptor) instanceConfigs() []InstanceConfig {
	if len(d.Instances) > 0 {
		return d.Instances
	}
	return []InstanceConfig{{URL: d.BaseURL, Weight: d.Weight}}
}

// Clone returns a deep copy of d.
func (d *ServiceDescriptor) Clone() *ServiceDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	c.Instances = slices.Clone(d.Instances)
	if d.IsActive != nil {
		active := *d.IsActive
		c.IsActive = &active
	}
	if d.RateLimit != nil {
		rl := *d.RateLimit
		c.RateLimit = &rl
	}
	if d.AuthPolicy != nil {
		ap := *d.AuthPolicy
		ap.Roles = slices.Clone(d.AuthPolicy.Roles)
		ap.Permissions = slices.Clone(d.AuthPolicy.Permissions)
		ap.BypassPaths = slices.Clone(d.AuthPolicy.BypassPaths)
		c.AuthPolicy = &ap
	}
	if d.CircuitBreaker != nil {
		cb := *d.CircuitBreaker
		c.CircuitBreaker = &cb
	}
	if d.Cache != nil {
		cp := *d.Cache
		cp.Headers = slices.Clone(d.Cache.Headers)
		c.Cache = &cp
	}
	return &c
}

// ServicePatch holds the fields to change on an existing service. Nil fields
// are left untouched.
type ServicePatch struct {
	BaseURL         *string
	Instances       []InstanceConfig
	PathPrefix      *string
	Timeout         *time.Duration
	Weight          *int
	HealthCheckPath *string
	IsActive        *bool
	LoadBalancer    *Strategy
	RateLimit       *RateLimitPolicy
	AuthPolicy      *auth.Policy
	CircuitBreaker  *circuitbreaker.Config
	Cache           *CachePolicy
}

func (p ServicePatch) apply(d *ServiceDescriptor) {
	if p.BaseURL != nil {
		d.BaseURL = *p.BaseURL
	}
	if p.Instances != nil {
		d.Instances = slices.Clone(p.Instances)
	}
	if p.PathPrefix != nil {
		d.PathPrefix = *p.PathPrefix
	}
	if p.Timeout != nil {
		d.Timeout = *p.Timeout
	}
	if p.Weight != nil {
		d.Weight = *p.Weight
	}
	if p.HealthCheckPath != nil {
		d.HealthCheckPath = *p.HealthCheckPath
	}
	if p.IsActive != nil {
		active := *p.IsActive
		d.IsActive = &active
	}
	if p.LoadBalancer != nil {
		d.LoadBalancer = *p.LoadBalancer
	}
	if p.RateLimit != nil {
		d.RateLimit = p.RateLimit
	}
	if p.AuthPolicy != nil {
		d.AuthPolicy = p.AuthPolicy
	}
	if p.CircuitBreaker != nil {
		d.CircuitBreaker = p.CircuitBreaker
	}
	if p.Cache != nil {
		d.Cache = p.Cache
	}
}
