package secrets

import (
	"context"
	"fmt"
	"os"
)

// EnvProvider reads environment variables.
type EnvProvider struct {
	lookup func(string) (string, bool)
}

// NewEnvProvider returns a provider backed by os.LookupEnv.
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{lookup: os.LookupEnv}
}

// Scheme implements Provider.
func (p *EnvProvider) Scheme() string {
	return "env"
}

// GetSecret implements Provider. A variable that is set but empty counts as
// missing.
func (p *EnvProvider) GetSecret(_ context.Context, ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty variable name", ErrInvalidReference)
	}
	value, ok := p.lookup(ref)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: environment variable %s", ErrSecretNotFound, ref)
	}
	return value, nil
}
