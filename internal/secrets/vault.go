package secrets

import (
	"context"
	"fmt"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.uber.org/zap"
)

// VaultConfig configures the Vault provider. Empty fields fall back to the
// standard VAULT_* environment variables.
type VaultConfig struct {
	Address   string
	Token     string
	Namespace string
	Timeout   time.Duration
}

// VaultProvider reads fields from Vault KV secrets. A reference is
// "path#field"; the path may name a KV v2 secret with or without the
// "data/" segment, or a KV v1 secret.
type VaultProvider struct {
	client *vaultapi.Client
	logger *zap.Logger
}

// NewVaultProvider creates a Vault client from cfg.
func NewVaultProvider(cfg VaultConfig, logger *zap.Logger) (*VaultProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	apiCfg := vaultapi.DefaultConfig()
	if apiCfg.Error != nil {
		return nil, fmt.Errorf("failed to read vault environment: %w", apiCfg.Error)
	}
	if cfg.Address != "" {
		apiCfg.Address = cfg.Address
	}
	if cfg.Timeout > 0 {
		apiCfg.Timeout = cfg.Timeout
	}

	client, err := vaultapi.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if client.Token() == "" {
		return nil, fmt.Errorf("%w: vault token is required", ErrProviderNotConfigured)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	logger.Info("vault secret provider initialized", zap.String("address", client.Address()))
	return &VaultProvider{client: client, logger: logger}, nil
}

// Scheme implements Provider.
func (p *VaultProvider) Scheme() string {
	return "vault"
}

// GetSecret implements Provider.
func (p *VaultProvider) GetSecret(ctx context.Context, ref string) (string, error) {
	path, field, ok := strings.Cut(ref, "#")
	path = strings.Trim(path, "/")
	if !ok || path == "" || field == "" {
		return "", fmt.Errorf("%w: vault reference must be path#field, got %q", ErrInvalidReference, ref)
	}

	data, err := p.read(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[field]
	if !ok || value == nil {
		return "", fmt.Errorf("%w: vault %s has no field %s", ErrSecretNotFound, path, field)
	}
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("%w: vault %s field %s is not a string", ErrInvalidReference, path, field)
	}
	return s, nil
}

// read tries path as given and then as a KV v2 path with "data/" inserted
// after the mount.
func (p *VaultProvider) read(ctx context.Context, path string) (map[string]any, error) {
	candidates := []string{path}
	if mount, rest, ok := strings.Cut(path, "/"); ok && !strings.HasPrefix(rest, "data/") {
		candidates = append(candidates, mount+"/data/"+rest)
	}

	for _, candidate := range candidates {
		secret, err := p.client.Logical().ReadWithContext(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to read vault secret %s: %w", candidate, err)
		}
		if secret == nil || secret.Data == nil {
			continue
		}

		p.logger.Debug("vault secret read", zap.String("path", candidate))

		raw, wrapped := secret.Data["data"]
		_, versioned := secret.Data["metadata"]
		if !wrapped || !versioned {
			return secret.Data, nil
		}
		data, ok := raw.(map[string]any)
		if !ok {
			// Soft-deleted KV v2 versions carry data: null.
			return nil, fmt.Errorf("%w: vault %s is deleted", ErrSecretNotFound, candidate)
		}
		return data, nil
	}

	return nil, fmt.Errorf("%w: vault %s", ErrSecretNotFound, path)
}
