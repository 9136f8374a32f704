package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/edgegw/internal/gateway/server/http/middleware"
)

// Authenticator extracts and verifies tokens and enforces role and
// permission gates.
type Authenticator struct {
	extractor TokenExtractor
	verifier  *Verifier
	logger    *zap.Logger
	metrics   *Metrics
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// WithVerifier replaces the verifier built from the config.
func WithVerifier(v *Verifier) Option {
	return func(a *Authenticator) {
		a.verifier = v
	}
}

// NewAuthenticator creates an authenticator from cfg.
func NewAuthenticator(cfg Config, opts ...Option) (*Authenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	verifier, err := NewVerifier(cfg)
	if err != nil {
		return nil, err
	}

	a := &Authenticator{
		extractor: TokenExtractor{Header: cfg.Header, Cookie: cfg.Cookie},
		verifier:  verifier,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Authenticate extracts and verifies the request's token. A panic during
// verification is converted into ErrVerification.
func (a *Authenticator) Authenticate(r *http.Request) (principal *Principal, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("panic during token verification", zap.Any("panic", rec))
			principal = nil
			err = fmt.Errorf("%w: %v", ErrVerification, rec)
		}
		a.metrics.recordAttempt(attemptResult(err))
	}()

	token := a.extractor.Extract(r)
	if token == "" {
		return nil, ErrMissingToken
	}
	return a.verifier.Verify(r.Context(), token)
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	default:
		return "error"
	}
}

// Required rejects requests without a valid token.
func (a *Authenticator) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.Authenticate(c.Request)
		if err != nil {
			a.logger.Debug("authentication failed",
				zap.String("path", c.Request.URL.Path),
				zap.String("requestID", middleware.GetRequestID(c)),
				zap.Error(err),
			)
			Abort(c, err)
			return
		}
		SetPrincipal(c, principal)
		c.Next()
	}
}

// Optional attaches a principal when a valid token is present and otherwise
// proceeds anonymously.
func (a *Authenticator) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		if principal, err := a.Authenticate(c.Request); err == nil {
			SetPrincipal(c, principal)
		}
		c.Next()
	}
}

// RequireRoles admits only principals whose role is one of roles.
func (a *Authenticator) RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, _ := GetPrincipal(c)
		if err := a.AuthorizeRoles(principal, roles); err != nil {
			Abort(c, err)
			return
		}
		c.Next()
	}
}

// RequirePermissions admits only principals holding every permission in perms.
func (a *Authenticator) RequirePermissions(perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, _ := GetPrincipal(c)
		if err := a.AuthorizePermissions(principal, perms); err != nil {
			Abort(c, err)
			return
		}
		c.Next()
	}
}

// AuthorizeRoles is CheckRoles with denial accounting.
func (a *Authenticator) AuthorizeRoles(p *Principal, roles []string) error {
	if err := CheckRoles(p, roles); err != nil {
		a.metrics.recordDenial("role")
		return err
	}
	return nil
}

// AuthorizePermissions is CheckPermissions with denial accounting.
func (a *Authenticator) AuthorizePermissions(p *Principal, perms []string) error {
	if err := CheckPermissions(p, perms); err != nil {
		a.metrics.recordDenial("permission")
		return err
	}
	return nil
}

// CheckRoles returns an *Error when p is nil or its role is not in roles.
// An empty roles list admits any principal.
func CheckRoles(p *Principal, roles []string) error {
	if p == nil {
		return AsError(ErrAuthRequired)
	}
	if len(roles) == 0 || p.HasRole(roles...) {
		return nil
	}
	return &Error{
		Status:  http.StatusForbidden,
		Code:    CodeInsufficientPermissions,
		Message: "Insufficient role, requires one of: " + strings.Join(roles, ", "),
		Details: map[string]any{
			"required": roles,
			"current":  p.Role,
		},
		Cause: ErrInsufficientPermissions,
	}
}

// CheckPermissions returns an *Error when p is nil or lacks any of perms.
func CheckPermissions(p *Principal, perms []string) error {
	if p == nil {
		return AsError(ErrAuthRequired)
	}
	if p.HasPermissions(perms...) {
		return nil
	}
	current := p.Permissions
	if current == nil {
		current = []string{}
	}
	return &Error{
		Status:  http.StatusForbidden,
		Code:    CodeInsufficientPermissions,
		Message: "Insufficient permissions, requires: " + strings.Join(perms, ", "),
		Details: map[string]any{
			"required": perms,
			"current":  current,
		},
		Cause: ErrInsufficientPermissions,
	}
}

// Abort writes err as the error envelope and stops the chain.
func Abort(c *gin.Context, err error) {
	authErr := AsError(err)
	middleware.AbortWithError(c, authErr.Status, authErr.Code, authErr.Message, authErr.Details)
}
