package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "edgegw/auth"

// Claim names carried by gateway tokens.
const (
	ClaimID          = "id"
	ClaimEmail       = "email"
	ClaimRole        = "role"
	ClaimPermissions = "permissions"
)

// Verifier verifies HS256 tokens and turns their claims into a Principal.
type Verifier struct {
	key      []byte
	issuer   string
	audience string
	skew     time.Duration
	now      func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithVerifierClock sets the time source used for exp/nbf/iat checks.
func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// NewVerifier creates a verifier from cfg.
func NewVerifier(cfg Config, opts ...VerifierOption) (*Verifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	v := &Verifier{
		key:      []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		skew:     cfg.ClockSkew,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the signature and the time-based claims of raw and returns
// the principal it carries. Expired tokens yield ErrTokenExpired; every other
// rejection, including a missing id claim, yields ErrInvalidToken.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Principal, error) {
	_, span := otel.Tracer(tracerName).Start(ctx, "auth.Verify")
	defer span.End()

	principal, err := v.verify(raw)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("auth.principal.id", principal.ID),
		attribute.String("auth.principal.role", principal.Role),
	)
	return principal, nil
}

func (v *Verifier) verify(raw string) (*Principal, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, v.key),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAcceptableSkew(v.skew),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return principalFromToken(token)
}

func principalFromToken(token jwt.Token) (*Principal, error) {
	p := &Principal{Permissions: []string{}}

	rawID, ok := token.Get(ClaimID)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q claim", ErrInvalidToken, ClaimID)
	}
	p.ID = claimString(rawID)
	if p.ID == "" {
		return nil, fmt.Errorf("%w: empty %q claim", ErrInvalidToken, ClaimID)
	}

	if v, ok := token.Get(ClaimEmail); ok {
		p.Email = claimString(v)
	}
	if v, ok := token.Get(ClaimRole); ok {
		p.Role = claimString(v)
	}
	if v, ok := token.Get(ClaimPermissions); ok {
		perms, err := claimStrings(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
		}
		p.Permissions = perms
	}

	return p, nil
}

func claimString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(s, 10)
	case fmt.Stringer:
		return s.String()
	default:
		return ""
	}
}

func claimStrings(v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%q claim must be a list of strings", ClaimPermissions)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%q claim must be a list of strings", ClaimPermissions)
	}
}

// Issuer signs HS256 tokens with the gateway secret.
type Issuer struct {
	key      []byte
	issuer   string
	audience string
	now      func() time.Time
}

// NewIssuer creates an issuer sharing cfg's secret, issuer and audience.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	return &Issuer{
		key:      []byte(cfg.Secret),
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      time.Now,
	}, nil
}

// Issue signs a token for p valid for ttl.
func (i *Issuer) Issue(p Principal, ttl time.Duration) (string, error) {
	claims := map[string]any{ClaimID: p.ID}
	if p.Email != "" {
		claims[ClaimEmail] = p.Email
	}
	if p.Role != "" {
		claims[ClaimRole] = p.Role
	}
	if len(p.Permissions) > 0 {
		claims[ClaimPermissions] = p.Permissions
	}
	return i.IssueClaims(claims, ttl)
}

// IssueClaims signs arbitrary private claims. A zero ttl omits exp; a
// negative ttl produces an already expired token.
func (i *Issuer) IssueClaims(claims map[string]any, ttl time.Duration) (string, error) {
	now := i.now()
	builder := jwt.NewBuilder().IssuedAt(now.Add(-time.Second))
	if ttl != 0 {
		builder = builder.Expiration(now.Add(ttl))
	}
	if i.issuer != "" {
		builder = builder.Issuer(i.issuer)
	}
	if i.audience != "" {
		builder = builder.Audience([]string{i.audience})
	}
	for k, v := range claims {
		builder = builder.Claim(k, v)
	}

	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, i.key))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return string(signed), nil
}
