package httpapi

import (
	"errors"
	"net/http"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/extlogin"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/token"
)

type externalLoginRequest struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	AvatarURL  string `json:"avatar_url"`
}

// handleExternalLogin accepts a verified profile from the identity provider
// callback and answers with a personal token for the resolved user.
func (a *API) handleExternalLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req externalLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.extLogin.Login(r.Context(), extlogin.Profile{
		ExternalID: req.ExternalID,
		Email:      req.Email,
		Name:       req.Name,
		AvatarURL:  req.AvatarURL,
	})
	if err != nil {
		switch {
		case errors.Is(err, extlogin.ErrDomainNotAllowed):
			fail(w, http.StatusForbidden, err.Error())
		case errors.Is(err, extlogin.ErrNotConfigured):
			fail(w, http.StatusServiceUnavailable, "external login unavailable")
		default:
			handleServiceError(w, err)
		}
		return
	}

	created, err := a.tokens.CreatePersonalToken(r.Context(), user.ID, "external-login", []string{token.WildcardAbility}, nil)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	obs.TokenIssued(familySanctum)
	_ = audit.LogEvent(r.Context(), "auth.external.login", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	respond(w, http.StatusOK, map[string]any{
		"token_type": "Bearer",
		"token":      created.PlainText,
		"user":       user,
	})
}
