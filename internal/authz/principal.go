package authz

import "context"

// Principal is an authenticated user in the context of an authorization
// check, with the permission set resolved at authentication time and the
// abilities carried by the presented token. Token abilities restrict what a
// request may do on top of (never instead of) the role-derived permissions.
type Principal struct {
	UserID      string
	TokenID     string
	TokenFamily string
	Permissions PermissionSet
	Abilities   []string
}

// Can reports whether the principal's roles grant the permission.
func (p Principal) Can(key string) bool {
	return p.Permissions.Has(key)
}

// HasAbility reports whether the presented token carries the ability.
// The wildcard "*" grants every ability.
func (p Principal) HasAbility(ability string) bool {
	for _, a := range p.Abilities {
		if a == "*" || a == ability {
			return true
		}
	}
	return false
}

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, &principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return Principal{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
