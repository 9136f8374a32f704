package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vyrodovalexey/edgegw/internal/auth"
	"github.com/vyrodovalexey/edgegw/internal/backend"
	"github.com/vyrodovalexey/edgegw/internal/cache"
	"github.com/vyrodovalexey/edgegw/internal/observability"
)

// ValidationError is one invalid field.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "no validation errors"
	case 1:
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, err.Error())
	}
	return sb.String()
}

type validator struct {
	errs ValidationErrors
}

func (v *validator) add(path, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// Validate checks the configuration and returns ValidationErrors listing
// every problem, or nil.
func (c *Config) Validate() error {
	v := &validator{}

	v.validateServer(&c.Server)
	v.validateLogging(&c.Logging)
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		v.add("tracing.sampleRate", "must be between 0 and 1")
	}
	v.validateRateLimit(&c.RateLimit)
	if c.Compression.Enabled && (c.Compression.Level < -2 || c.Compression.Level > 9) {
		v.add("compression.level", "must be between -2 and 9")
	}
	if c.Cache.MaxEntries < 0 {
		v.add("cache.maxEntries", "must not be negative")
	}
	v.validateServices(c)

	if len(v.errs) > 0 {
		return v.errs
	}
	return nil
}

func (v *validator) validateServer(s *ServerConfig) {
	if s.Port < 0 || s.Port > 65535 {
		v.add("server.port", "must be between 0 and 65535")
	}
	if s.TLS != nil && (s.TLS.CertFile == "" || s.TLS.KeyFile == "") {
		v.add("server.tls", "certFile and keyFile are required")
	}
	if s.MaxRequestBodySize < 0 {
		v.add("server.maxRequestBodySize", "must not be negative")
	}
}

func (v *validator) validateLogging(l *LoggingConfig) {
	if _, err := observability.ParseLevel(l.Level); err != nil {
		v.add("logging.level", "%v", err)
	}
	switch l.Format {
	case "json", "console":
	default:
		v.add("logging.format", "must be json or console, got %q", l.Format)
	}
}

func (v *validator) validateRateLimit(r *RateLimitConfig) {
	switch r.Store {
	case "memory":
	case "redis":
		if r.Redis == nil || r.Redis.Address == "" {
			v.add("rateLimit.redis.address", "is required for the redis store")
		}
	default:
		v.add("rateLimit.store", "must be memory or redis, got %q", r.Store)
	}
	if r.Enabled && r.RequestsPerSecond <= 0 {
		v.add("rateLimit.requestsPerSecond", "must be positive when the global limit is enabled")
	}
	if r.Burst < 0 {
		v.add("rateLimit.burst", "must not be negative")
	}
}

func (v *validator) validateServices(c *Config) {
	names := make(map[string]int, len(c.Services))
	prefixes := make(map[string]string, len(c.Services))

	for i := range c.Services {
		s := &c.Services[i]
		path := fmt.Sprintf("services[%d]", i)
		if s.Name != "" {
			path = fmt.Sprintf("services[%s]", s.Name)
		}

		duplicate := false
		if s.Name == "" {
			v.add(path+".name", "is required")
		} else if j, dup := names[s.Name]; dup {
			v.add(path+".name", "duplicates services[%d]", j)
			duplicate = true
		} else {
			names[s.Name] = i
		}

		if s.BaseURL == "" && len(s.Instances) == 0 {
			v.add(path, "baseUrl or instances is required")
		}
		if s.BaseURL != "" {
			v.validateURL(path+".baseUrl", s.BaseURL)
		}
		for j, inst := range s.Instances {
			v.validateURL(fmt.Sprintf("%s.instances[%d].url", path, j), inst.URL)
			if inst.Weight < 0 {
				v.add(fmt.Sprintf("%s.instances[%d].weight", path, j), "must not be negative")
			}
		}

		prefix := s.PathPrefix
		if prefix == "" && s.Name != "" {
			prefix = "/" + s.Name
		}
		if prefix != "" && s.Active() && !duplicate {
			if other, dup := prefixes[prefix]; dup {
				v.add(path+".pathPrefix", "%q is also used by %s", prefix, other)
			} else {
				prefixes[prefix] = s.Name
			}
		}

		if s.LoadBalancer != "" && !backend.Strategy(s.LoadBalancer).Valid() {
			v.add(path+".loadBalancer", "unknown strategy %q", s.LoadBalancer)
		}
		if s.RateLimit != nil && s.RateLimit.RequestsPerSecond <= 0 {
			v.add(path+".rateLimit.requestsPerSecond", "must be positive")
		}
		if a := s.Auth; a != nil && a.Mode != "" && !auth.Mode(a.Mode).Valid() {
			v.add(path+".auth.mode", "unknown mode %q", a.Mode)
		}
		if cp := s.Cache; cp != nil && cp.Enabled {
			if cp.TTL <= 0 {
				v.add(path+".cache.ttl", "must be positive")
			}
			if _, err := cache.NewCELCondition(cp.Condition); err != nil {
				v.add(path+".cache.condition", "%v", err)
			}
		}
	}
}

func (v *validator) validateURL(path, raw string) {
	u, err := url.Parse(raw)
	if err != nil {
		v.add(path, "%v", err)
		return
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		v.add(path, "scheme must be http or https")
	}
	if u.Host == "" {
		v.add(path, "host is required")
	}
}
