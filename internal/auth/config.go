package auth

import (
	"errors"
	"time"
)

// Default token locations.
const (
	DefaultHeader = "Authorization"
	DefaultCookie = "token"
)

// Config configures token extraction and verification.
type Config struct {
	// Secret is the HMAC key used to verify HS256 tokens.
	Secret string
	// Header carries the token, optionally prefixed with "Bearer ".
	Header string
	// Cookie is consulted when the header is absent.
	Cookie string
	// Issuer, when set, must match the iss claim.
	Issuer string
	// Audience, when set, must be present in the aud claim.
	Audience string
	// ClockSkew is tolerated when checking exp, nbf and iat.
	ClockSkew time.Duration
}

// DefaultConfig returns a config with the default header and cookie names.
func DefaultConfig() Config {
	return Config{
		Header: DefaultHeader,
		Cookie: DefaultCookie,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Secret == "" {
		return errors.New("auth: secret is required")
	}
	if c.Header == "" && c.Cookie == "" {
		return errors.New("auth: at least one of header or cookie must be set")
	}
	if c.ClockSkew < 0 {
		return errors.New("auth: clock skew must not be negative")
	}
	return nil
}

// Mode selects how strictly a route requires authentication.
type Mode string

// Authentication modes.
const (
	ModeNone     Mode = "none"
	ModeOptional Mode = "optional"
	ModeRequired Mode = "required"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModeOptional, ModeRequired:
		return true
	default:
		return false
	}
}

// Policy is the per-service authentication and authorization policy.
type Policy struct {
	Mode        Mode     `json:"mode"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	// BypassPaths downgrade a required policy to optional for matching paths.
	BypassPaths []string `json:"bypassPaths,omitempty"`
}

// ModeFor returns the effective mode for path. A nil policy means ModeNone.
func (p *Policy) ModeFor(path string) Mode {
	if p == nil || p.Mode == "" {
		return ModeNone
	}
	if p.Mode == ModeRequired && IsPathBypassed(path, p.BypassPaths) {
		return ModeOptional
	}
	return p.Mode
}
