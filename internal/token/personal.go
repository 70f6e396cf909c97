package token

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatekit.org/internal/ids"
	"gatekit.org/internal/rbac"
)

// WildcardAbility grants every ability; it is the default for personal
// tokens created without an explicit ability list.
const WildcardAbility = "*"

// CreatedPersonalToken carries the one-time plaintext alongside the stored
// record. The plaintext is never retrievable again.
type CreatedPersonalToken struct {
	PlainText string
	Token     PersonalToken
}

// CreatePersonalToken mints a named long-lived token for the user.
func (s *Service) CreatePersonalToken(ctx context.Context, userID, name string, abilities []string, expiresAt *time.Time) (CreatedPersonalToken, error) {
	userID = strings.TrimSpace(userID)
	name = strings.TrimSpace(name)
	if userID == "" {
		return CreatedPersonalToken{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if name == "" || len(name) > 255 {
		return CreatedPersonalToken{}, fmt.Errorf("%w: token name is required", ErrInvalidInput)
	}
	abilities = dedupe(abilities)
	if len(abilities) == 0 {
		abilities = []string{WildcardAbility}
	}
	now := s.now().UTC()
	if expiresAt != nil {
		if err := s.validateExpiry(*expiresAt, now); err != nil {
			return CreatedPersonalToken{}, err
		}
	}
	raw, hash, err := newOpaqueSecret()
	if err != nil {
		return CreatedPersonalToken{}, err
	}
	rec := PersonalToken{
		ID:        ids.New(),
		UserID:    userID,
		Name:      name,
		TokenHash: hash,
		Abilities: abilities,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreatePersonalToken(ctx, rec); err != nil {
		return CreatedPersonalToken{}, err
	}
	return CreatedPersonalToken{PlainText: rec.ID + "." + raw, Token: rec}, nil
}

// IssuePersonalToken is the login path: it verifies credentials and mints a
// personal token named after the requesting device.
func (s *Service) IssuePersonalToken(ctx context.Context, email, password, name string, abilities []string, expiresAt *time.Time) (CreatedPersonalToken, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return CreatedPersonalToken{}, ErrUnauthorized
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return CreatedPersonalToken{}, ErrUnauthorized
	}
	if !user.Active {
		return CreatedPersonalToken{}, ErrUnauthorized
	}
	if err := rbac.VerifyPassword(user.PasswordHash, password); err != nil {
		return CreatedPersonalToken{}, ErrUnauthorized
	}
	return s.CreatePersonalToken(ctx, user.ID, name, abilities, expiresAt)
}

// AuthenticatePersonal resolves a presented personal token to its record,
// checking hash and expiry and stamping last_used_at.
func (s *Service) AuthenticatePersonal(ctx context.Context, bearer string) (PersonalToken, error) {
	id, secret, err := splitOpaque(bearer)
	if err != nil {
		return PersonalToken{}, ErrInvalidToken
	}
	rec, err := s.store.FindPersonalToken(ctx, id)
	if err != nil {
		return PersonalToken{}, ErrInvalidToken
	}
	if !hashMatches(rec.TokenHash, secret) {
		return PersonalToken{}, ErrInvalidToken
	}
	now := s.now().UTC()
	if rec.ExpiresAt != nil && !rec.ExpiresAt.After(now) {
		return PersonalToken{}, ErrInvalidToken
	}
	if err := s.store.TouchPersonalToken(ctx, rec.ID, now); err != nil {
		return PersonalToken{}, err
	}
	rec.LastUsedAt = &now
	return rec, nil
}

// VerifyPersonal reports whether the token record is currently valid, for the
// verify endpoint of an already-authenticated request.
func (s *Service) VerifyPersonal(ctx context.Context, userID, tokenID string) (PersonalToken, bool, error) {
	rec, err := s.store.GetPersonalToken(ctx, userID, tokenID)
	if err != nil {
		return PersonalToken{}, false, err
	}
	valid := rec.ExpiresAt == nil || rec.ExpiresAt.After(s.now())
	return rec, valid, nil
}

// ListPersonalTokens returns token metadata, never plaintext or hashes.
func (s *Service) ListPersonalTokens(ctx context.Context, userID string) ([]PersonalToken, error) {
	return s.store.ListPersonalTokens(ctx, userID)
}

// ShowPersonalToken returns one token after an ownership check.
func (s *Service) ShowPersonalToken(ctx context.Context, userID, tokenID string) (PersonalToken, error) {
	return s.store.GetPersonalToken(ctx, userID, tokenID)
}

// UpdatePersonalToken changes name, abilities or expiry. The token value is
// never regenerated; a new value requires a new token.
func (s *Service) UpdatePersonalToken(ctx context.Context, userID, tokenID string, upd PersonalTokenUpdate) (PersonalToken, error) {
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" || len(name) > 255 {
			return PersonalToken{}, fmt.Errorf("%w: token name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Abilities != nil {
		abilities := dedupe(upd.Abilities)
		if len(abilities) == 0 {
			abilities = []string{WildcardAbility}
		}
		upd.Abilities = abilities
	}
	if upd.ExpiresAt != nil {
		if err := s.validateExpiry(*upd.ExpiresAt, s.now().UTC()); err != nil {
			return PersonalToken{}, err
		}
	}
	return s.store.UpdatePersonalToken(ctx, userID, tokenID, upd)
}

// RevokePersonalToken deletes one token owned by the user.
func (s *Service) RevokePersonalToken(ctx context.Context, userID, tokenID string) error {
	return s.store.DeletePersonalToken(ctx, userID, tokenID)
}

// RevokePersonalTokensByName deletes every token of the user with the name
// and returns the count.
func (s *Service) RevokePersonalTokensByName(ctx context.Context, userID, name string) (int, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: token name is required", ErrInvalidInput)
	}
	return s.store.DeletePersonalTokensByName(ctx, userID, name)
}

// RevokeAllPersonalTokens deletes every token of the user.
func (s *Service) RevokeAllPersonalTokens(ctx context.Context, userID string) (int, error) {
	return s.store.DeleteAllPersonalTokens(ctx, userID)
}

// RevokeOtherPersonalTokens deletes every token except the one currently
// presented. The exclusion happens inside a single conditional delete, so two
// concurrent calls cannot remove each other's surviving token.
func (s *Service) RevokeOtherPersonalTokens(ctx context.Context, userID, currentID string) (int, error) {
	if strings.TrimSpace(currentID) == "" {
		return 0, fmt.Errorf("%w: current token id is required", ErrInvalidInput)
	}
	return s.store.DeleteOtherPersonalTokens(ctx, userID, currentID)
}

// RevokeExpiredPersonalTokens deletes tokens whose expiry has passed and
// returns the exact count removed.
func (s *Service) RevokeExpiredPersonalTokens(ctx context.Context, userID string) (int, error) {
	return s.store.DeleteExpiredPersonalTokens(ctx, userID, s.now().UTC())
}

func (s *Service) validateExpiry(expiresAt, now time.Time) error {
	if !expiresAt.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	if expiresAt.After(now.Add(s.personalMaxTTL)) {
		return fmt.Errorf("%w: expiry exceeds the maximum lifetime", ErrInvalidInput)
	}
	return nil
}
