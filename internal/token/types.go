package token

import "time"

// User is the minimal account view the issuer needs for credential grants.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Active       bool
}

// AccessToken is the persisted record behind an external/OAuth bearer token.
// The bearer string itself is a signed JWT whose jti claim is ID; revocation
// and lazy expiry are evaluated against this row on every verification.
type AccessToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"-"`
	ClientID  string     `json:"client_id"`
	Scopes    []string   `json:"scopes"`
	Revoked   bool       `json:"revoked"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RefreshToken is stored as a hash; the wire format is "<id>.<secret>".
// AccessTokenID links each refresh token to the access token it can renew,
// which is what makes the access→refresh cascading revoke a single indexed
// statement instead of a graph walk.
type RefreshToken struct {
	ID            string
	AccessTokenID string
	TokenHash     string
	Revoked       bool
	Used          bool
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// PersonalToken is a long-lived named token bound to one user. The plaintext
// is returned exactly once at creation; only the hash is stored.
type PersonalToken struct {
	ID         string     `json:"id"`
	UserID     string     `json:"-"`
	Name       string     `json:"name"`
	TokenHash  string     `json:"-"`
	Abilities  []string   `json:"abilities"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// PersonalTokenUpdate mutates metadata only; the token value is never
// regenerated through update.
type PersonalTokenUpdate struct {
	Name      *string
	Abilities []string
	ExpiresAt *time.Time
	// ClearExpiry removes the expiry when set (ExpiresAt nil alone means
	// "leave unchanged").
	ClearExpiry bool
}

// Pair is the result of a credential or refresh grant.
type Pair struct {
	AccessToken      string    `json:"token"`
	AccessTokenID    string    `json:"-"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	Scopes           []string  `json:"scope,omitempty"`
}
