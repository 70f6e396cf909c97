package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	familyPassport = "passport"
	familySanctum  = "sanctum"
)

// authenticated resolves the bearer token into a principal and applies the
// authenticated-tier rate limit. Passport bearers are JWTs (two dots);
// sanctum bearers are opaque "id.secret" strings (one dot). A token from the
// wrong family for the group fails as a generic 401.
func (a *API) authenticated(family string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authLimit.allow(clientIP(r)) {
			fail(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			fail(w, http.StatusUnauthorized, "unauthenticated")
			return
		}
		if tokenFamily(raw) != family {
			fail(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		principal := authz.Principal{TokenFamily: family}
		switch family {
		case familyPassport:
			rec, err := a.tokens.VerifyAccess(r.Context(), raw)
			if err != nil {
				a.authError(w, err)
				return
			}
			principal.UserID = rec.UserID
			principal.TokenID = rec.ID
			principal.Abilities = rec.Scopes
		case familySanctum:
			rec, err := a.tokens.AuthenticatePersonal(r.Context(), raw)
			if err != nil {
				a.authError(w, err)
				return
			}
			principal.UserID = rec.UserID
			principal.TokenID = rec.ID
			principal.Abilities = rec.Abilities
		default:
			fail(w, http.StatusUnauthorized, "unauthenticated")
			return
		}

		perms, err := a.engine.PermissionSet(r.Context(), principal.UserID)
		if err != nil {
			fail(w, http.StatusInternalServerError, "authentication error")
			return
		}
		principal.Permissions = perms

		ctx := authz.ContextWithPrincipal(r.Context(), principal)
		ctx = authz.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) authError(w http.ResponseWriter, err error) {
	// Never reveal whether the token was unknown, revoked, or expired.
	switch {
	case errors.Is(err, token.ErrInvalidToken),
		errors.Is(err, token.ErrUnauthorized),
		errors.Is(err, token.ErrNotFound):
		fail(w, http.StatusUnauthorized, "unauthenticated")
	default:
		fail(w, http.StatusInternalServerError, "authentication error")
	}
}

// requirePermission enforces a maintainer permission for the current
// principal; it writes the response itself on failure. The role-derived
// permission must be granted AND the presented token must carry the ability
// the operation needs, so a token scoped to "read" cannot mutate anything no
// matter what the user's roles allow.
func (a *API) requirePermission(w http.ResponseWriter, r *http.Request, perm string) bool {
	principal, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		fail(w, http.StatusUnauthorized, "unauthenticated")
		return false
	}
	if !principal.Can(perm) || !principal.HasAbility(authz.RequiredAbility(perm)) {
		fail(w, http.StatusForbidden, "forbidden")
		return false
	}
	return true
}

// currentPrincipal is a convenience for handlers inside authenticated groups.
func currentPrincipal(r *http.Request) (authz.Principal, bool) {
	return authz.PrincipalFromContext(r.Context())
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

// tokenFamily guesses the scheme from the bearer's shape: JWTs carry two
// dots, opaque personal tokens one.
func tokenFamily(raw string) string {
	switch strings.Count(raw, ".") {
	case 2:
		return familyPassport
	case 1:
		return familySanctum
	default:
		return ""
	}
}
