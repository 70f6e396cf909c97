package httpapi

import (
	"net/http"
	"strings"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/token"
)

type passportTokenRequest struct {
	GrantType    string   `json:"grant_type"`
	ClientID     string   `json:"client_id"`
	Email        string   `json:"email"`
	Password     string   `json:"password"`
	Scopes       []string `json:"scopes"`
	RefreshToken string   `json:"refresh_token"`
}

type revokeTokenRequest struct {
	TokenID string `json:"token_id"`
}

type revokeRefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// handlePassportToken is the unauthenticated grant endpoint: password grant
// or refresh-token grant.
func (a *API) handlePassportToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req passportTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		pair token.Pair
		err  error
	)
	switch req.GrantType {
	case "password":
		pair, err = a.tokens.IssuePair(r.Context(), req.ClientID, req.Email, req.Password, req.Scopes)
	case "refresh_token":
		pair, err = a.tokens.Refresh(r.Context(), req.RefreshToken)
	default:
		fail(w, http.StatusBadRequest, "unsupported grant_type")
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	obs.TokenIssued(familyPassport)
	_ = audit.LogEvent(r.Context(), "passport.token.issued", map[string]any{
		"grant_type": req.GrantType,
		"token_id":   pair.AccessTokenID,
	})
	respond(w, http.StatusOK, map[string]any{
		"token_type":         "Bearer",
		"access_token":       pair.AccessToken,
		"refresh_token":      pair.RefreshToken,
		"expires_at":         pair.AccessExpiresAt,
		"refresh_expires_at": pair.RefreshExpiresAt,
		"scopes":             pair.Scopes,
	})
}

// routePassport dispatches the authenticated passport group.
func (a *API) routePassport(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/passport/"), "/")
	switch path {
	case "user":
		a.passportUser(w, r)
	case "verify":
		a.passportVerify(w, r)
	case "revoke":
		a.passportRevoke(w, r)
	case "revoke-all":
		a.passportRevokeAll(w, r)
	case "revoke-others":
		a.passportRevokeOthers(w, r)
	case "revoke-expired":
		a.passportRevokeExpired(w, r)
	case "revoke-refresh-token":
		a.passportRevokeRefresh(w, r)
	case "tokens":
		a.passportListTokens(w, r)
	default:
		if id, ok := strings.CutPrefix(path, "tokens/"); ok && !strings.Contains(id, "/") {
			a.passportTokenResource(w, r, id)
			return
		}
		fail(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) passportUser(w http.ResponseWriter, r *http.Request) {
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
	respond(w, http.StatusOK, map[string]any{"user": user})
}

func (a *API) passportVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, _ := currentPrincipal(r)
	rec, err := a.tokens.ShowAccessToken(r.Context(), p.UserID, p.TokenID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"valid": true,
		"token": rec,
	})
}

func (a *API) passportRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	p, _ := currentPrincipal(r)
	var req revokeTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		// Absent body means "revoke the presented token".
		req.TokenID = ""
	}
	tokenID := strings.TrimSpace(req.TokenID)
	if tokenID == "" {
		tokenID = p.TokenID
	}
	if err := a.tokens.RevokeAccessToken(r.Context(), p.UserID, tokenID); err != nil {
		handleServiceError(w, err)
		return
	}
	obs.TokenRevoked(familyPassport, "single")
	_ = audit.LogEvent(r.Context(), "passport.token.revoked", map[string]any{"token_id": tokenID})
	respond(w, http.StatusOK, map[string]any{"revoked": tokenID})
}

func (a *API) passportRevokeAll(w http.ResponseWriter, r *http.Request) {
	a.passportBulkRevoke(w, r, "all", func(p principalIDs) (int, error) {
		return a.tokens.RevokeAllAccessTokens(r.Context(), p.userID)
	})
}

func (a *API) passportRevokeOthers(w http.ResponseWriter, r *http.Request) {
	a.passportBulkRevoke(w, r, "others", func(p principalIDs) (int, error) {
		return a.tokens.RevokeOtherAccessTokens(r.Context(), p.userID, p.tokenID)
	})
}

func (a *API) passportRevokeExpired(w http.ResponseWriter, r *http.Request) {
	a.passportBulkRevoke(w, r, "expired", func(p principalIDs) (int, error) {
		return a.tokens.RevokeExpiredAccessTokens(r.Context(), p.userID)
	})
}

type principalIDs struct {
	userID  string
	tokenID string
}

func (a *API) passportBulkRevoke(w http.ResponseWriter, r *http.Request, reason string, fn func(principalIDs) (int, error)) {
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
	obs.TokenRevoked(familyPassport, reason)
	_ = audit.LogEvent(r.Context(), "passport.token.revoked."+reason, map[string]any{"count": count})
	respond(w, http.StatusOK, map[string]any{"revoked_count": count})
}

func (a *API) passportRevokeRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req revokeRefreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.tokens.RevokeRefreshToken(r.Context(), req.RefreshToken); err != nil {
		handleServiceError(w, err)
		return
	}
	obs.TokenRevoked(familyPassport, "refresh")
	respond(w, http.StatusOK, map[string]any{"revoked": true})
}

func (a *API) passportListTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	p, _ := currentPrincipal(r)
	tokens, err := a.tokens.ListAccessTokens(r.Context(), p.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (a *API) passportTokenResource(w http.ResponseWriter, r *http.Request, id string) {
	p, _ := currentPrincipal(r)
	switch r.Method {
	case http.MethodGet:
		rec, err := a.tokens.ShowAccessToken(r.Context(), p.UserID, id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"token": rec})
	case http.MethodDelete:
		if err := a.tokens.RevokeAccessToken(r.Context(), p.UserID, id); err != nil {
			handleServiceError(w, err)
			return
		}
		obs.TokenRevoked(familyPassport, "single")
		respond(w, http.StatusOK, map[string]any{"revoked": id})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}
