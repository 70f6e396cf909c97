package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gatekit.org/internal/ids"
	"gatekit.org/internal/rbac"
)

const (
	defaultAccessTTL      = 15 * 24 * time.Hour
	defaultRefreshTTL     = 30 * 24 * time.Hour
	defaultPersonalMaxTTL = 180 * 24 * time.Hour

	tokenTypeAccess = "access"
)

// Service is the token issuer and revocation ledger for both token families.
type Service struct {
	store  Store
	now    func() time.Time
	secret []byte
	issuer string

	accessTTL      time.Duration
	refreshTTL     time.Duration
	personalMaxTTL time.Duration
}

// Claims are the JWT claims carried by external access tokens.
type Claims struct {
	Scopes    []string `json:"scopes,omitempty"`
	TokenType string   `json:"token_type"`
	jwt.RegisteredClaims
}

// Option configures Service behavior.
type Option func(*Service) error

// WithSecret sets the HS256 signing secret. Required for issuance.
func WithSecret(secret string) Option {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("token: signing secret is empty")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer sets the issuer claim embedded in access tokens.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		s.issuer = strings.TrimSpace(issuer)
		return nil
	}
}

// WithAccessTTL configures the access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithPersonalMaxTTL caps how far in the future a personal token expiry may
// be set.
func WithPersonalMaxTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.personalMaxTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (used by expiry tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the issuer with optional configuration.
func NewService(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("token: store is required")
	}
	svc := &Service{
		store:          store,
		now:            time.Now,
		accessTTL:      defaultAccessTTL,
		refreshTTL:     defaultRefreshTTL,
		personalMaxTTL: defaultPersonalMaxTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// --- External/OAuth family ---

// IssuePair authenticates user credentials for an opaque client and mints an
// access+refresh pair (OAuth password grant).
func (s *Service) IssuePair(ctx context.Context, clientID, email, password string, scopes []string) (Pair, error) {
	if len(s.secret) == 0 {
		return Pair{}, errors.New("token: signing secret is not configured")
	}
	clientID = strings.TrimSpace(clientID)
	email = strings.TrimSpace(strings.ToLower(email))
	if clientID == "" || email == "" || password == "" {
		return Pair{}, ErrUnauthorized
	}
	user, err := s.store.FindUserByEmail(ctx, email)
	if err != nil {
		return Pair{}, ErrUnauthorized
	}
	if !user.Active {
		return Pair{}, ErrUnauthorized
	}
	if err := rbac.VerifyPassword(user.PasswordHash, password); err != nil {
		return Pair{}, ErrUnauthorized
	}
	return s.mintPair(ctx, user.ID, clientID, dedupe(scopes))
}

// Refresh redeems a refresh token: the old token is consumed (one-time use)
// and a new access+refresh pair is minted atomically. Of two concurrent
// redemptions of the same token exactly one succeeds; the loser sees
// ErrInvalidToken.
func (s *Service) Refresh(ctx context.Context, rawRefresh string) (Pair, error) {
	if len(s.secret) == 0 {
		return Pair{}, errors.New("token: signing secret is not configured")
	}
	id, secret, err := splitOpaque(rawRefresh)
	if err != nil {
		return Pair{}, ErrInvalidToken
	}
	rec, err := s.store.FindRefreshToken(ctx, id)
	if err != nil {
		return Pair{}, ErrInvalidToken
	}
	if rec.Revoked || rec.Used || s.now().After(rec.ExpiresAt) {
		return Pair{}, ErrInvalidToken
	}
	if !hashMatches(rec.TokenHash, secret) {
		return Pair{}, ErrInvalidToken
	}
	access, err := s.store.FindAccessToken(ctx, rec.AccessTokenID)
	if err != nil {
		return Pair{}, ErrInvalidToken
	}
	user, err := s.store.FindUser(ctx, access.UserID)
	if err != nil || !user.Active {
		return Pair{}, ErrInvalidToken
	}

	now := s.now().UTC()
	newAccess, signed, err := s.buildAccessToken(user.ID, access.ClientID, access.Scopes, now)
	if err != nil {
		return Pair{}, err
	}
	rawNewRefresh, newRefresh, err := s.buildRefreshToken(newAccess.ID, now)
	if err != nil {
		return Pair{}, err
	}
	if err := s.store.RotateRefreshToken(ctx, rec.ID, newAccess, newRefresh); err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      signed,
		AccessTokenID:    newAccess.ID,
		RefreshToken:     rawNewRefresh,
		AccessExpiresAt:  *newAccess.ExpiresAt,
		RefreshExpiresAt: newRefresh.ExpiresAt,
		Scopes:           newAccess.Scopes,
	}, nil
}

// VerifyAccess validates a bearer access token: signature and claims first,
// then the ledger row — a revoked or expired token fails regardless of what
// the JWT itself says.
func (s *Service) VerifyAccess(ctx context.Context, bearer string) (AccessToken, error) {
	claims, err := s.parseAccessClaims(bearer)
	if err != nil {
		return AccessToken{}, ErrInvalidToken
	}
	rec, err := s.store.FindAccessToken(ctx, claims.ID)
	if err != nil {
		return AccessToken{}, ErrInvalidToken
	}
	if rec.UserID != claims.Subject {
		return AccessToken{}, ErrInvalidToken
	}
	if !s.accessTokenValid(rec) {
		return AccessToken{}, ErrInvalidToken
	}
	return rec, nil
}

// ListAccessTokens returns metadata for every external token of the user.
func (s *Service) ListAccessTokens(ctx context.Context, userID string) ([]AccessToken, error) {
	return s.store.ListAccessTokens(ctx, userID)
}

// ShowAccessToken returns one token's metadata after an ownership check.
func (s *Service) ShowAccessToken(ctx context.Context, userID, tokenID string) (AccessToken, error) {
	return s.store.GetAccessToken(ctx, userID, tokenID)
}

// RevokeAccessToken revokes one access token and, mandatorily, every refresh
// token chained to it.
func (s *Service) RevokeAccessToken(ctx context.Context, userID, tokenID string) error {
	return s.store.RevokeAccessToken(ctx, userID, tokenID)
}

// RevokeAllAccessTokens revokes every external token of the user.
func (s *Service) RevokeAllAccessTokens(ctx context.Context, userID string) (int, error) {
	return s.store.RevokeAllAccessTokens(ctx, userID)
}

// RevokeOtherAccessTokens revokes every external token of the user except the
// one currently presented.
func (s *Service) RevokeOtherAccessTokens(ctx context.Context, userID, currentID string) (int, error) {
	if strings.TrimSpace(currentID) == "" {
		return 0, fmt.Errorf("%w: current token id is required", ErrInvalidInput)
	}
	return s.store.RevokeOtherAccessTokens(ctx, userID, currentID)
}

// RevokeExpiredAccessTokens is the optional maintenance sweep; correctness
// never depends on it because expiry is checked lazily at verification.
func (s *Service) RevokeExpiredAccessTokens(ctx context.Context, userID string) (int, error) {
	return s.store.RevokeExpiredAccessTokens(ctx, userID, s.now().UTC())
}

// RevokeRefreshToken revokes a refresh token presented by value, cascading to
// the access token that owns it.
func (s *Service) RevokeRefreshToken(ctx context.Context, rawRefresh string) error {
	id, secret, err := splitOpaque(rawRefresh)
	if err != nil {
		return ErrNotFound
	}
	rec, err := s.store.FindRefreshToken(ctx, id)
	if err != nil {
		return ErrNotFound
	}
	if !hashMatches(rec.TokenHash, secret) {
		return ErrNotFound
	}
	return s.store.RevokeRefreshToken(ctx, rec.ID)
}

func (s *Service) mintPair(ctx context.Context, userID, clientID string, scopes []string) (Pair, error) {
	now := s.now().UTC()
	access, signed, err := s.buildAccessToken(userID, clientID, scopes, now)
	if err != nil {
		return Pair{}, err
	}
	rawRefresh, refresh, err := s.buildRefreshToken(access.ID, now)
	if err != nil {
		return Pair{}, err
	}
	if err := s.store.CreateAccessToken(ctx, access); err != nil {
		return Pair{}, err
	}
	if err := s.store.CreateRefreshToken(ctx, refresh); err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      signed,
		AccessTokenID:    access.ID,
		RefreshToken:     rawRefresh,
		AccessExpiresAt:  *access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		Scopes:           scopes,
	}, nil
}

func (s *Service) buildAccessToken(userID, clientID string, scopes []string, now time.Time) (AccessToken, string, error) {
	expiresAt := now.Add(s.accessTTL)
	rec := AccessToken{
		ID:        ids.New(),
		UserID:    userID,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: &expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	claims := Claims{
		Scopes:    scopes,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        rec.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if s.issuer != "" {
		claims.Issuer = s.issuer
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return AccessToken{}, "", fmt.Errorf("sign access token: %w", err)
	}
	return rec, signed, nil
}

func (s *Service) buildRefreshToken(accessTokenID string, now time.Time) (string, RefreshToken, error) {
	raw, hash, err := newOpaqueSecret()
	if err != nil {
		return "", RefreshToken{}, err
	}
	rec := RefreshToken{
		ID:            ids.New(),
		AccessTokenID: accessTokenID,
		TokenHash:     hash,
		ExpiresAt:     now.Add(s.refreshTTL),
		CreatedAt:     now,
	}
	return rec.ID + "." + raw, rec, nil
}

func (s *Service) parseAccessClaims(bearer string) (*Claims, error) {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(bearer, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || strings.TrimSpace(claims.ID) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) accessTokenValid(rec AccessToken) bool {
	if rec.Revoked {
		return false
	}
	return rec.ExpiresAt == nil || rec.ExpiresAt.After(s.now())
}

// --- opaque token helpers ---

// newOpaqueSecret returns the plaintext secret and its sha256 hex digest.
func newOpaqueSecret() (string, string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw := base64.RawURLEncoding.EncodeToString(buf)
	return raw, hashSecret(raw), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func hashMatches(expectedHash, secret string) bool {
	actual := hashSecret(secret)
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}

// splitOpaque parses the "<id>.<secret>" wire format shared by refresh and
// personal tokens.
func splitOpaque(raw string) (id, secret string, err error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid opaque token format")
	}
	return parts[0], parts[1], nil
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
