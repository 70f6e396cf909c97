package token

import "errors"

var (
	// ErrUnauthorized covers bad credentials. Handlers surface it as a
	// generic 401 without leaking which check failed.
	ErrUnauthorized = errors.New("token: unauthorized")
	// ErrInvalidToken indicates a token that failed verification: malformed,
	// revoked, expired, or already used.
	ErrInvalidToken = errors.New("token: invalid token")
	// ErrNotFound covers both absent and not-owned tokens; ownership is never
	// distinguished from absence.
	ErrNotFound = errors.New("token: not found")
	// ErrInvalidInput covers malformed requests (bad expiry, empty name).
	ErrInvalidInput = errors.New("token: invalid input")
)
