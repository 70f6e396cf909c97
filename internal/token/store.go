package token

import (
	"context"
	"time"
)

// Store is the persistence contract of the token ledger. Bulk revocation
// methods return the number of tokens affected. Methods taking a userID
// enforce ownership and report ErrNotFound for rows owned by someone else.
type Store interface {
	FindUser(ctx context.Context, userID string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)

	// External/OAuth family. RevokeAccessToken and the bulk variants cascade
	// to every refresh token chained to the affected access tokens.
	CreateAccessToken(ctx context.Context, t AccessToken) error
	FindAccessToken(ctx context.Context, id string) (AccessToken, error)
	GetAccessToken(ctx context.Context, userID, id string) (AccessToken, error)
	ListAccessTokens(ctx context.Context, userID string) ([]AccessToken, error)
	RevokeAccessToken(ctx context.Context, userID, id string) error
	RevokeAllAccessTokens(ctx context.Context, userID string) (int, error)
	RevokeOtherAccessTokens(ctx context.Context, userID, currentID string) (int, error)
	RevokeExpiredAccessTokens(ctx context.Context, userID string, now time.Time) (int, error)

	CreateRefreshToken(ctx context.Context, t RefreshToken) error
	FindRefreshToken(ctx context.Context, id string) (RefreshToken, error)
	// RotateRefreshToken marks usedID consumed and persists the replacement
	// pair in one transaction. The mark is a conditional update; if the row
	// was already used or revoked the whole transaction fails with
	// ErrInvalidToken, so concurrent redemptions cannot both succeed.
	RotateRefreshToken(ctx context.Context, usedID string, access AccessToken, refresh RefreshToken) error
	// RevokeRefreshToken revokes the refresh token and the access token that
	// owns it.
	RevokeRefreshToken(ctx context.Context, id string) error

	// Personal-access family. Revocation deletes rows, matching the original
	// scheme where a personal token has no revoked state, only existence.
	CreatePersonalToken(ctx context.Context, t PersonalToken) error
	FindPersonalToken(ctx context.Context, id string) (PersonalToken, error)
	GetPersonalToken(ctx context.Context, userID, id string) (PersonalToken, error)
	ListPersonalTokens(ctx context.Context, userID string) ([]PersonalToken, error)
	UpdatePersonalToken(ctx context.Context, userID, id string, upd PersonalTokenUpdate) (PersonalToken, error)
	TouchPersonalToken(ctx context.Context, id string, usedAt time.Time) error
	DeletePersonalToken(ctx context.Context, userID, id string) error
	DeletePersonalTokensByName(ctx context.Context, userID, name string) (int, error)
	DeleteAllPersonalTokens(ctx context.Context, userID string) (int, error)
	// DeleteOtherPersonalTokens removes every token of the user except
	// currentID in a single conditional delete.
	DeleteOtherPersonalTokens(ctx context.Context, userID, currentID string) (int, error)
	DeleteExpiredPersonalTokens(ctx context.Context, userID string, now time.Time) (int, error)
}
