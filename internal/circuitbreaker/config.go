// Package circuitbreaker implements the per-service circuit breaker that stops
// the gateway from sending traffic to a backend that keeps failing.
package circuitbreaker

import (
	"time"
)

// Default configuration values.
const (
	DefaultFailureThreshold    = 5
	DefaultResetTimeout        = 60 * time.Second
	DefaultHalfOpenMaxRequests = 1
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before the next request
	// is let through as a trial.
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the number of concurrent trial requests admitted
	// while half-open.
	HalfOpenMaxRequests int

	// OnStateChange is called after every state transition.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:    DefaultFailureThreshold,
		ResetTimeout:        DefaultResetTimeout,
		HalfOpenMaxRequests: DefaultHalfOpenMaxRequests,
	}
}

// Validate fills zero or invalid fields with defaults.
func (c *Config) Validate() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenMaxRequests < 1 {
		c.HalfOpenMaxRequests = DefaultHalfOpenMaxRequests
	}
}

// WithFailureThreshold sets the failure threshold.
func (c *Config) WithFailureThreshold(n int) *Config {
	c.FailureThreshold = n
	return c
}

// WithResetTimeout sets the open-state duration.
func (c *Config) WithResetTimeout(d time.Duration) *Config {
	c.ResetTimeout = d
	return c
}

// WithHalfOpenMaxRequests sets the number of half-open trial requests.
func (c *Config) WithHalfOpenMaxRequests(n int) *Config {
	c.HalfOpenMaxRequests = n
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}

func (c *Config) clone() *Config {
	cp := *c
	return &cp
}
