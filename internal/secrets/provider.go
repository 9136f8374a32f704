// Package secrets resolves secret references in configuration values.
//
// A reference is "<scheme>:<ref>". The built-in schemes are:
//
//	env:JWT_SECRET               environment variable
//	file:/run/secrets/jwt        file contents, trailing newline trimmed
//	vault:secret/gateway#jwt     Vault KV v2 or v1 field
//
// Values without a registered scheme are returned unchanged.
package secrets

import (
	"context"
	"errors"
)

// Common errors for secrets providers.
var (
	// ErrSecretNotFound is returned when a referenced secret does not exist.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrInvalidReference is returned when a reference cannot be parsed.
	ErrInvalidReference = errors.New("invalid secret reference")
	// ErrProviderNotConfigured is returned when a provider is missing required settings.
	ErrProviderNotConfigured = errors.New("provider not configured")
)

// Provider looks up one kind of secret reference.
type Provider interface {
	// Scheme is the prefix the provider answers to, without the colon.
	Scheme() string
	// GetSecret returns the secret named by ref.
	GetSecret(ctx context.Context, ref string) (string, error)
}
