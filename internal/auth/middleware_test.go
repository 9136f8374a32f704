package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestAuthenticator(t *testing.T, opts ...Option) (*Authenticator, *Issuer) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Secret = testSecret
	a, err := NewAuthenticator(cfg, opts...)
	require.NoError(t, err)
	return a, newTestIssuer(t, cfg)
}

func doRequest(router *gin.Engine, token string) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(http.MethodGet, "/r", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func principalHandler(c *gin.Context) {
	p, ok := GetPrincipal(c)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"anonymous": true})
		return
	}
	c.JSON(http.StatusOK, p)
}

func TestAuthenticator_Required(t *testing.T) {
	a, issuer := newTestAuthenticator(t)
	router := gin.New()
	router.GET("/r", a.Required(), principalHandler)

	t.Run("missing token", func(t *testing.T) {
		w, body := doRequest(router, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeMissingToken, body["code"])
		assert.Equal(t, false, body["success"])
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := issuer.IssueClaims(map[string]any{"id": "1"}, -time.Minute)
		require.NoError(t, err)
		w, body := doRequest(router, token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeTokenExpired, body["code"])
	})

	t.Run("invalid token", func(t *testing.T) {
		w, body := doRequest(router, "abc")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeInvalidToken, body["code"])
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := issuer.Issue(Principal{ID: "u1", Email: "u1@example.com", Role: "admin"}, time.Hour)
		require.NoError(t, err)
		w, body := doRequest(router, token)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "u1", body["id"])
		assert.Equal(t, "admin", body["role"])
		assert.Equal(t, []any{}, body["permissions"])
	})
}

func TestAuthenticator_Optional(t *testing.T) {
	a, issuer := newTestAuthenticator(t)
	router := gin.New()
	router.GET("/r", a.Optional(), principalHandler)

	w, body := doRequest(router, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["anonymous"])

	w, body = doRequest(router, "garbage")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["anonymous"])

	expired, err := issuer.IssueClaims(map[string]any{"id": "1"}, -time.Minute)
	require.NoError(t, err)
	w, body = doRequest(router, expired)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["anonymous"])

	valid, err := issuer.Issue(Principal{ID: "u2"}, time.Hour)
	require.NoError(t, err)
	w, body = doRequest(router, valid)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u2", body["id"])
}

func TestAuthenticator_RequireRoles(t *testing.T) {
	a, issuer := newTestAuthenticator(t)
	router := gin.New()
	router.GET("/r", a.Optional(), a.RequireRoles("admin", "moderator"), principalHandler)

	t.Run("no principal", func(t *testing.T) {
		w, body := doRequest(router, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeAuthRequired, body["code"])
	})

	t.Run("allowed role", func(t *testing.T) {
		token, err := issuer.Issue(Principal{ID: "1", Role: "moderator"}, time.Hour)
		require.NoError(t, err)
		w, _ := doRequest(router, token)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("denied role", func(t *testing.T) {
		token, err := issuer.Issue(Principal{ID: "1", Role: "user"}, time.Hour)
		require.NoError(t, err)
		w, body := doRequest(router, token)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, CodeInsufficientPermissions, body["code"])
		assert.Equal(t, "user", body["current"])
		assert.Equal(t, []any{"admin", "moderator"}, body["required"])
	})
}

func TestAuthenticator_RequirePermissions(t *testing.T) {
	a, issuer := newTestAuthenticator(t)
	router := gin.New()
	router.GET("/r", a.Optional(), a.RequirePermissions("read", "write"), principalHandler)

	t.Run("subset missing", func(t *testing.T) {
		token, err := issuer.Issue(Principal{ID: "1", Permissions: []string{"read"}}, time.Hour)
		require.NoError(t, err)
		w, body := doRequest(router, token)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, CodeInsufficientPermissions, body["code"])
		assert.Equal(t, []any{"read"}, body["current"])
	})

	t.Run("no permissions claim", func(t *testing.T) {
		token, err := issuer.Issue(Principal{ID: "1"}, time.Hour)
		require.NoError(t, err)
		w, body := doRequest(router, token)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, []any{}, body["current"])
	})

	t.Run("superset", func(t *testing.T) {
		token, err := issuer.Issue(Principal{ID: "1", Permissions: []string{"write", "read", "delete"}}, time.Hour)
		require.NoError(t, err)
		w, _ := doRequest(router, token)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("anonymous", func(t *testing.T) {
		w, body := doRequest(router, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeAuthRequired, body["code"])
	})
}

func TestCheckRoles(t *testing.T) {
	assert.NoError(t, CheckRoles(&Principal{Role: "moderator"}, []string{"admin", "moderator"}))
	assert.NoError(t, CheckRoles(&Principal{Role: "anyone"}, nil))

	err := CheckRoles(&Principal{Role: "user"}, []string{"admin", "moderator"})
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.Status)
	assert.Equal(t, "user", authErr.Details["current"])
	assert.ErrorIs(t, err, ErrInsufficientPermissions)

	err = CheckRoles(nil, []string{"admin"})
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, CodeAuthRequired, authErr.Code)
}

func TestCheckPermissions(t *testing.T) {
	err := CheckPermissions(&Principal{Permissions: []string{"read"}}, []string{"read", "write"})
	var authErr *Error
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, []string{"read"}, authErr.Details["current"])

	err = CheckPermissions(&Principal{}, []string{"read"})
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, []string{}, authErr.Details["current"])

	assert.NoError(t, CheckPermissions(&Principal{}, nil))
}

func TestAsError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: ErrMissingToken, status: http.StatusUnauthorized, code: CodeMissingToken},
		{err: ErrTokenExpired, status: http.StatusUnauthorized, code: CodeTokenExpired},
		{err: ErrInvalidToken, status: http.StatusUnauthorized, code: CodeInvalidToken},
		{err: ErrAuthRequired, status: http.StatusUnauthorized, code: CodeAuthRequired},
		{err: ErrInsufficientPermissions, status: http.StatusForbidden, code: CodeInsufficientPermissions},
		{err: ErrVerification, status: http.StatusInternalServerError, code: CodeAuthError},
		{err: errors.New("boom"), status: http.StatusInternalServerError, code: CodeAuthError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			authErr := AsError(tt.err)
			assert.Equal(t, tt.status, authErr.Status)
			assert.Equal(t, tt.code, authErr.Code)
		})
	}

	assert.Nil(t, AsError(nil))
}

func TestAuthenticator_PanicBecomesAuthError(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	a.verifier = nil // Verify on a nil *Verifier dereferences and panics.

	req := httptest.NewRequest(http.MethodGet, "/r", nil)
	req.Header.Set("Authorization", "Bearer something")

	_, err := a.Authenticate(req)
	require.ErrorIs(t, err, ErrVerification)
	assert.Equal(t, CodeAuthError, AsError(err).Code)
}

func TestAuthenticator_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics("test", reg)
	a, _ := newTestAuthenticator(t, WithMetrics(metrics))

	_, _ = a.Authenticate(httptest.NewRequest(http.MethodGet, "/r", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.attempts.WithLabelValues("missing")))
}
