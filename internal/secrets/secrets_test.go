package secrets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("EDGEGW_TEST_SECRET", "from-env")
	t.Setenv("EDGEGW_TEST_EMPTY", "")

	p := NewEnvProvider()
	ctx := context.Background()

	got, err := p.GetSecret(ctx, "EDGEGW_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	_, err = p.GetSecret(ctx, "EDGEGW_TEST_EMPTY")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = p.GetSecret(ctx, "EDGEGW_TEST_UNSET_VARIABLE")
	assert.ErrorIs(t, err, ErrSecretNotFound)

	_, err = p.GetSecret(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jwt"), []byte("file-secret\n"), 0o600))

	ctx := context.Background()

	t.Run("absolute path", func(t *testing.T) {
		got, err := NewFileProvider("").GetSecret(ctx, filepath.Join(dir, "jwt"))
		require.NoError(t, err)
		assert.Equal(t, "file-secret", got)
	})

	t.Run("relative to base dir", func(t *testing.T) {
		got, err := NewFileProvider(dir).GetSecret(ctx, "jwt")
		require.NoError(t, err)
		assert.Equal(t, "file-secret", got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileProvider(dir).GetSecret(ctx, "nope")
		assert.ErrorIs(t, err, ErrSecretNotFound)
	})

	t.Run("empty reference", func(t *testing.T) {
		_, err := NewFileProvider(dir).GetSecret(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidReference)
	})
}

// fakeVault serves a handful of KV paths in the shape Vault returns them.
func fakeVault(t *testing.T) *httptest.Server {
	t.Helper()

	responses := map[string]any{
		"/v1/secret/data/gateway": map[string]any{
			"data": map[string]any{
				"data":     map[string]any{"jwt": "vault-secret", "port": 8080},
				"metadata": map[string]any{"version": 3},
			},
		},
		"/v1/secret/data/removed": map[string]any{
			"data": map[string]any{
				"data":     nil,
				"metadata": map[string]any{"version": 2, "deletion_time": "2026-01-01T00:00:00Z"},
			},
		},
		"/v1/kv/legacy": map[string]any{
			"data": map[string]any{"password": "v1-secret"},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "test-token" {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		body, ok := responses[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newVaultProvider(t *testing.T, addr string) *VaultProvider {
	t.Helper()
	p, err := NewVaultProvider(VaultConfig{Address: addr, Token: "test-token"}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestVaultProvider(t *testing.T) {
	srv := fakeVault(t)
	p := newVaultProvider(t, srv.URL)
	ctx := context.Background()

	tests := []struct {
		name    string
		ref     string
		want    string
		wantErr error
	}{
		{name: "kv v2 without data segment", ref: "secret/gateway#jwt", want: "vault-secret"},
		{name: "kv v2 explicit data path", ref: "secret/data/gateway#jwt", want: "vault-secret"},
		{name: "kv v1", ref: "kv/legacy#password", want: "v1-secret"},
		{name: "missing field", ref: "secret/gateway#nope", wantErr: ErrSecretNotFound},
		{name: "non-string field", ref: "secret/gateway#port", wantErr: ErrInvalidReference},
		{name: "missing secret", ref: "secret/absent#jwt", wantErr: ErrSecretNotFound},
		{name: "deleted version", ref: "secret/removed#jwt", wantErr: ErrSecretNotFound},
		{name: "no field", ref: "secret/gateway", wantErr: ErrInvalidReference},
		{name: "no path", ref: "#jwt", wantErr: ErrInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetSecret(ctx, tt.ref)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVaultProvider_PermissionDenied(t *testing.T) {
	srv := fakeVault(t)
	p, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "wrong"}, nil)
	require.NoError(t, err)

	_, err = p.GetSecret(context.Background(), "secret/gateway#jwt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSecretNotFound)
}

func TestNewVaultProvider_RequiresToken(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")

	_, err := NewVaultProvider(VaultConfig{Address: "http://127.0.0.1:8200"}, nil)
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestResolver(t *testing.T) {
	t.Setenv("EDGEGW_RESOLVER_SECRET", "env-value")
	dir := t.TempDir()
	secretFile := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(secretFile, []byte("file-value\n"), 0o600))

	srv := fakeVault(t)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("edgegw", reg)
	r := NewResolver(
		WithLogger(zap.NewNop()),
		WithMetrics(metrics),
		WithProvider(newVaultProvider(t, srv.URL)),
	)
	ctx := context.Background()

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{name: "literal", value: "plain-secret", want: "plain-secret"},
		{name: "unregistered scheme", value: "https://example.com", want: "https://example.com"},
		{name: "env", value: "env:EDGEGW_RESOLVER_SECRET", want: "env-value"},
		{name: "file", value: "file:" + secretFile, want: "file-value"},
		{name: "vault", value: "vault:secret/gateway#jwt", want: "vault-secret"},
		{name: "env missing", value: "env:EDGEGW_RESOLVER_UNSET", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, tt.value)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSecretNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("env", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("env", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.lookups.WithLabelValues("vault", "success")))
}

func TestResolver_VaultNotRegistered(t *testing.T) {
	got, err := NewResolver().Resolve(context.Background(), "vault:secret/gateway#jwt")
	require.NoError(t, err)
	assert.Equal(t, "vault:secret/gateway#jwt", got)
}
