package token

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatekit.org/internal/authz"
)

func TestCreatePersonalTokenDefaults(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	created, err := svc.CreatePersonalToken(ctx, "u1", "cli", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{WildcardAbility}, created.Token.Abilities)
	require.Nil(t, created.Token.ExpiresAt)
	require.Equal(t, 1, strings.Count(created.PlainText, "."))
	require.True(t, strings.HasPrefix(created.PlainText, created.Token.ID+"."))
	require.NotContains(t, created.PlainText, created.Token.TokenHash)
}

func TestAuthenticatePersonalStampsLastUsed(t *testing.T) {
	store := newMemStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	created, err := svc.CreatePersonalToken(ctx, "u1", "cli", []string{"read"}, nil)
	require.NoError(t, err)

	current = current.Add(time.Hour)
	rec, err := svc.AuthenticatePersonal(ctx, created.PlainText)
	require.NoError(t, err)
	require.Equal(t, "u1", rec.UserID)
	require.Equal(t, []string{"read"}, rec.Abilities)

	stored, err := svc.ShowPersonalToken(ctx, "u1", created.Token.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastUsedAt)
	require.Equal(t, current, stored.LastUsedAt.UTC())
}

func TestAuthenticatePersonalRejectsBadSecret(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	created, err := svc.CreatePersonalToken(ctx, "u1", "cli", nil, nil)
	require.NoError(t, err)

	_, err = svc.AuthenticatePersonal(ctx, created.Token.ID+".wrong-secret")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.AuthenticatePersonal(ctx, "no-dot-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticatePersonalExpired(t *testing.T) {
	store := newMemStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	expiresAt := current.Add(time.Hour)
	created, err := svc.CreatePersonalToken(ctx, "u1", "cli", nil, &expiresAt)
	require.NoError(t, err)

	_, err = svc.AuthenticatePersonal(ctx, created.PlainText)
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, err = svc.AuthenticatePersonal(ctx, created.PlainText)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestCreatePersonalTokenExpiryBounds(t *testing.T) {
	store := newMemStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	past := current.Add(-time.Hour)
	_, err := svc.CreatePersonalToken(ctx, "u1", "cli", nil, &past)
	require.ErrorIs(t, err, ErrInvalidInput)

	tooFar := current.Add(200 * 24 * time.Hour)
	_, err = svc.CreatePersonalToken(ctx, "u1", "cli", nil, &tooFar)
	require.ErrorIs(t, err, ErrInvalidInput)

	ok := current.Add(90 * 24 * time.Hour)
	_, err = svc.CreatePersonalToken(ctx, "u1", "cli", nil, &ok)
	require.NoError(t, err)
}

// A "cli" token with abilities ["read"] must not authorize write actions,
// and listings must never expose the plaintext or the hash.
func TestPersonalTokenAbilityScenario(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	created, err := svc.CreatePersonalToken(ctx, "u1", "cli", []string{"read"}, nil)
	require.NoError(t, err)

	rec, err := svc.AuthenticatePersonal(ctx, created.PlainText)
	require.NoError(t, err)

	principal := authz.Principal{Abilities: rec.Abilities}
	require.True(t, principal.HasAbility(authz.AbilityRead))
	require.False(t, principal.HasAbility(authz.AbilityWrite))

	list, err := svc.ListPersonalTokens(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "cli", list[0].Name)

	// PersonalToken marshals without hash; the plaintext exists only in the
	// creation response.
	require.NotEqual(t, created.PlainText, list[0].TokenHash)
}

func TestUpdatePersonalTokenNeverTouchesSecret(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	created, err := svc.CreatePersonalToken(ctx, "u1", "cli", []string{"read"}, nil)
	require.NoError(t, err)

	name := "laptop"
	updated, err := svc.UpdatePersonalToken(ctx, "u1", created.Token.ID, PersonalTokenUpdate{
		Name:      &name,
		Abilities: []string{"read", "write"},
	})
	require.NoError(t, err)
	require.Equal(t, "laptop", updated.Name)
	require.Equal(t, []string{"read", "write"}, updated.Abilities)
	require.Equal(t, created.Token.TokenHash, updated.TokenHash)

	// the original plaintext still authenticates
	_, err = svc.AuthenticatePersonal(ctx, created.PlainText)
	require.NoError(t, err)
}

func TestRevokePersonalVariants(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	a, err := svc.CreatePersonalToken(ctx, "u1", "cli", nil, nil)
	require.NoError(t, err)
	b, err := svc.CreatePersonalToken(ctx, "u1", "cli", nil, nil)
	require.NoError(t, err)
	c, err := svc.CreatePersonalToken(ctx, "u1", "laptop", nil, nil)
	require.NoError(t, err)

	count, err := svc.RevokePersonalTokensByName(ctx, "u1", "cli")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = svc.AuthenticatePersonal(ctx, a.PlainText)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.AuthenticatePersonal(ctx, b.PlainText)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.AuthenticatePersonal(ctx, c.PlainText)
	require.NoError(t, err)
}

func TestRevokeOtherPersonalTokens(t *testing.T) {
	store := newMemStore()
	svc := newTestService(t, store)
	ctx := context.Background()

	current, err := svc.CreatePersonalToken(ctx, "u1", "current", nil, nil)
	require.NoError(t, err)
	other1, err := svc.CreatePersonalToken(ctx, "u1", "other-1", nil, nil)
	require.NoError(t, err)
	other2, err := svc.CreatePersonalToken(ctx, "u1", "other-2", nil, nil)
	require.NoError(t, err)

	count, err := svc.RevokeOtherPersonalTokens(ctx, "u1", current.Token.ID)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = svc.AuthenticatePersonal(ctx, current.PlainText)
	require.NoError(t, err)
	_, err = svc.AuthenticatePersonal(ctx, other1.PlainText)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.AuthenticatePersonal(ctx, other2.PlainText)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeExpiredPersonalTokens(t *testing.T) {
	store := newMemStore()
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, WithClock(func() time.Time { return current }))
	ctx := context.Background()

	soon := current.Add(time.Hour)
	expiring, err := svc.CreatePersonalToken(ctx, "u1", "short", nil, &soon)
	require.NoError(t, err)
	keeper, err := svc.CreatePersonalToken(ctx, "u1", "keeper", nil, nil)
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	count, err := svc.RevokeExpiredPersonalTokens(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = svc.ShowPersonalToken(ctx, "u1", expiring.Token.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.ShowPersonalToken(ctx, "u1", keeper.Token.ID)
	require.NoError(t, err)
}

func TestIssuePersonalTokenVerifiesCredentials(t *testing.T) {
	store := newMemStore()
	seedUser(t, store, "u1", "u1@example.test", true)
	svc := newTestService(t, store)
	ctx := context.Background()

	created, err := svc.IssuePersonalToken(ctx, "u1@example.test", testPassword, "cli", nil, nil)
	require.NoError(t, err)
	require.Equal(t, "u1", created.Token.UserID)

	_, err = svc.IssuePersonalToken(ctx, "u1@example.test", "wrong", "cli", nil, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
}
