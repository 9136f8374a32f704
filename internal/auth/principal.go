package auth

import (
	"context"

	"github.com/gin-gonic/gin"
)

// PrincipalKey is the gin context key holding the *Principal.
const PrincipalKey = "principal"

// Principal is the identity derived from a verified token. It lives for one
// request and is never persisted.
type Principal struct {
	ID          string   `json:"id"`
	Email       string   `json:"email,omitempty"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
}

// HasRole reports whether the principal's role is one of roles.
func (p *Principal) HasRole(roles ...string) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// HasPermissions reports whether every permission in required is held.
func (p *Principal) HasPermissions(required ...string) bool {
	if p == nil {
		return len(required) == 0
	}
	held := make(map[string]struct{}, len(p.Permissions))
	for _, perm := range p.Permissions {
		held[perm] = struct{}{}
	}
	for _, perm := range required {
		if _, ok := held[perm]; !ok {
			return false
		}
	}
	return true
}

type principalContextKey struct{}

// ContextWithPrincipal returns a copy of ctx carrying p.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal attached to ctx.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

// SetPrincipal attaches p to both the gin context and the request context.
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(PrincipalKey, p)
	c.Request = c.Request.WithContext(ContextWithPrincipal(c.Request.Context(), p))
}

// GetPrincipal returns the principal attached by SetPrincipal.
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	if v, exists := c.Get(PrincipalKey); exists {
		if p, ok := v.(*Principal); ok && p != nil {
			return p, true
		}
	}
	return PrincipalFromContext(c.Request.Context())
}
