package httpapi

import (
	"net/http"
	"strings"
	"time"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/token"
)

type sanctumTokenRequest struct {
	Email      string     `json:"email"`
	Password   string     `json:"password"`
	DeviceName string     `json:"device_name"`
	Abilities  []string   `json:"abilities"`
	ExpiresAt  *time.Time `json:"expires_at"`
}

type sanctumUpdateRequest struct {
	Name        *string    `json:"name"`
	Abilities   []string   `json:"abilities"`
	ExpiresAt   *time.Time `json:"expires_at"`
	ClearExpiry bool       `json:"clear_expiry"`
}

type revokeByNameRequest struct {
	Name string `json:"name"`
}

// handleSanctumToken is the unauthenticated login endpoint for the personal
// family. It is the only moment the plaintext token is ever returned.
func (a *API) handleSanctumToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req sanctumTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.tokens.IssuePersonalToken(r.Context(), req.Email, req.Password, req.DeviceName, req.Abilities, req.ExpiresAt)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	obs.TokenIssued(familySanctum)
	_ = audit.LogEvent(r.Context(), "sanctum.token.issued", map[string]any{
		"token_id": created.Token.ID,
		"name":     created.Token.Name,
	})
	respond(w, http.StatusOK, map[string]any{
		"token_type": "Bearer",
		"token":      created.PlainText,
		"meta":       created.Token,
	})
}

// routeSanctum dispatches the authenticated sanctum group.
func (a *API) routeSanctum(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sanctum/"), "/")
	switch path {
	case "user":
		a.sanctumUser(w, r)
	case "verify":
		a.sanctumVerify(w, r)
	case "revoke":
		a.sanctumRevoke(w, r)
	case "revoke-all":
		a.sanctumBulkRevoke(w, r, "all", func(p principalIDs) (int, error) {
			return a.tokens.RevokeAllPersonalTokens(r.Context(), p.userID)
		})
	case "tokens":
		a.sanctumListTokens(w, r)
	case "tokens/revoke-by-name":
		a.sanctumRevokeByName(w, r)
	case "tokens/revoke-others":
		a.sanctumBulkRevoke(w, r, "others", func(p principalIDs) (int, error) {
			return a.tokens.RevokeOtherPersonalTokens(r.Context(), p.userID, p.tokenID)
		})
	case "tokens/revoke-expired":
		a.sanctumBulkRevoke(w, r, "expired", func(p principalIDs) (int, error) {
			return a.tokens.RevokeExpiredPersonalTokens(r.Context(), p.userID)
		})
	default:
		if id, ok := strings.CutPrefix(path, "tokens/"); ok && !strings.Contains(id, "/") {
			a.sanctumTokenResource(w, r, id)
			return
		}
		fail(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) sanctumUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, _ := currentPrincipal(r)
	user, err := a.users.GetUser(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	roles, err := a.users.RolesForUser(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	user.Roles = roles
	respond(w, http.StatusOK, map[string]any{
		"user":        user,
		"permissions": p.Permissions.Keys(),
	})
}

func (a *API) sanctumVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, _ := currentPrincipal(r)
	rec, valid, err := a.tokens.VerifyPersonal(r.Context(), p.UserID, p.TokenID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"valid": valid,
		"token": rec,
	})
}

func (a *API) sanctumRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	p, _ := currentPrincipal(r)
	var req revokeTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		req.TokenID = ""
	}
	tokenID := strings.TrimSpace(req.TokenID)
	if tokenID == "" {
		tokenID = p.TokenID
	}
	if err := a.tokens.RevokePersonalToken(r.Context(), p.UserID, tokenID); err != nil {
		handleServiceError(w, err)
		return
	}
	obs.TokenRevoked(familySanctum, "single")
	_ = audit.LogEvent(r.Context(), "sanctum.token.revoked", map[string]any{"token_id": tokenID})
	respond(w, http.StatusOK, map[string]any{"revoked": tokenID})
}

func (a *API) sanctumBulkRevoke(w http.ResponseWriter, r *http.Request, reason string, fn func(principalIDs) (int, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	p, _ := currentPrincipal(r)
	count, err := fn(principalIDs{userID: p.UserID, tokenID: p.TokenID})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	obs.TokenRevoked(familySanctum, reason)
	_ = audit.LogEvent(r.Context(), "sanctum.token.revoked."+reason, map[string]any{"count": count})
	respond(w, http.StatusOK, map[string]any{"revoked_count": count})
}

func (a *API) sanctumRevokeByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req revokeByNameRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	p, _ := currentPrincipal(r)
	count, err := a.tokens.RevokePersonalTokensByName(r.Context(), p.UserID, req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	obs.TokenRevoked(familySanctum, "by-name")
	respond(w, http.StatusOK, map[string]any{"revoked_count": count})
}

func (a *API) sanctumListTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, _ := currentPrincipal(r)
	tokens, err := a.tokens.ListPersonalTokens(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (a *API) sanctumTokenResource(w http.ResponseWriter, r *http.Request, id string) {
	p, _ := currentPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		rec, err := a.tokens.ShowPersonalToken(r.Context(), p.UserID, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"token": rec})
	case http.MethodPatch:
		var req sanctumUpdateRequest
		if err := decodeJSON(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := a.tokens.UpdatePersonalToken(r.Context(), p.UserID, id, token.PersonalTokenUpdate{
			Name:        req.Name,
			Abilities:   req.Abilities,
			ExpiresAt:   req.ExpiresAt,
			ClearExpiry: req.ClearExpiry,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"token": rec})
	case http.MethodDelete:
		if err := a.tokens.RevokePersonalToken(r.Context(), p.UserID, id); err != nil {
			handleServiceError(w, err)
			return
		}
		obs.TokenRevoked(familySanctum, "single")
		respond(w, http.StatusOK, map[string]any{"revoked": id})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}
