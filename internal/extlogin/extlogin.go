// Package extlogin turns a verified profile from an external identity
// provider into a local account. The provider contract is deliberately
// small: it hands over a verified email plus display data, nothing else.
package extlogin

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/rbac"
)

// ErrDomainNotAllowed rejects logins whose email domain is outside the
// configured allow-list.
var ErrDomainNotAllowed = errors.New("email domain not allowed")

// ErrNotConfigured signals a missing allowed-domain setting. Absence is an
// error state, never a silent allow-all.
var ErrNotConfigured = errors.New("external login allowed domain not configured")

// Profile is what the identity provider hands back for a verified login.
type Profile struct {
	ExternalID string
	Email      string
	Name       string
	AvatarURL  string
}

// Mailer delivers the generated password to a freshly created account.
type Mailer interface {
	SendWelcome(ctx context.Context, email, name, password string) error
}

// LogMailer writes the welcome mail as an audit event instead of sending it.
// It stands in until an SMTP delivery is wired up.
type LogMailer struct{}

func (LogMailer) SendWelcome(ctx context.Context, email, name, _ string) error {
	return audit.LogEvent(ctx, "mail.welcome", map[string]any{
		"email": email,
		"name":  name,
	})
}

// Service links external identities to local users.
type Service struct {
	users         *rbac.Service
	mailer        Mailer
	allowedDomain string
}

// NewService builds the external-login collaborator. allowedDomain is the
// single domain (e.g. "example.org") whose addresses may log in.
func NewService(users *rbac.Service, mailer Mailer, allowedDomain string) *Service {
	if mailer == nil {
		mailer = LogMailer{}
	}
	return &Service{
		users:         users,
		mailer:        mailer,
		allowedDomain: strings.ToLower(strings.TrimSpace(allowedDomain)),
	}
}

// Login resolves the profile to a local user, creating one when the email is
// unknown. An existing user gains the external id (only if not already
// linked) and a refreshed avatar; no other profile field is overwritten.
func (s *Service) Login(ctx context.Context, p Profile) (rbac.User, error) {
	email := strings.ToLower(strings.TrimSpace(p.Email))
	if email == "" {
		return rbac.User{}, fmt.Errorf("%w: email is required", rbac.ErrInvalidInput)
	}
	if s.allowedDomain == "" {
		return rbac.User{}, ErrNotConfigured
	}
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.EqualFold(email[at+1:], s.allowedDomain) {
		return rbac.User{}, ErrDomainNotAllowed
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		upd := rbac.UserUpdate{}
		if user.ExternalID == "" && p.ExternalID != "" {
			upd.ExternalID = &p.ExternalID
		}
		if p.AvatarURL != "" && p.AvatarURL != user.Avatar {
			upd.Avatar = &p.AvatarURL
		}
		if upd.ExternalID == nil && upd.Avatar == nil {
			return user, nil
		}
		return s.users.UpdateUser(ctx, user.ID, upd)
	case errors.Is(err, rbac.ErrNotFound):
		return s.register(ctx, p, email)
	default:
		return rbac.User{}, err
	}
}

func (s *Service) register(ctx context.Context, p Profile, email string) (rbac.User, error) {
	password, err := GeneratePassword()
	if err != nil {
		return rbac.User{}, err
	}
	hash, err := rbac.HashPassword(password)
	if err != nil {
		return rbac.User{}, err
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = email[:strings.LastIndex(email, "@")]
	}
	user, err := s.users.RegisterExternalUser(ctx, rbac.NewUser{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		ExternalID:   p.ExternalID,
		Avatar:       p.AvatarURL,
		Status:       true,
	})
	if err != nil {
		return rbac.User{}, err
	}
	if err := s.mailer.SendWelcome(ctx, user.Email, user.Name, password); err != nil {
		// Account creation already committed; delivery failure is logged
		// and the login still succeeds.
		_ = audit.LogEvent(ctx, "mail.welcome.failed", map[string]any{
			"email": user.Email,
			"error": err.Error(),
		})
	}
	return user, nil
}

const (
	passwordLength  = 16
	passwordLetters = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"
	passwordDigits  = "23456789"
	passwordSymbols = "!#$%&*+-=?@_"
)

// GeneratePassword returns a random 16-character password satisfying the
// account password policy (letter, digit, and symbol guaranteed).
func GeneratePassword() (string, error) {
	alphabet := passwordLetters + passwordDigits + passwordSymbols
	buf := make([]byte, passwordLength)
	pick := func(set string) (byte, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
		if err != nil {
			return 0, err
		}
		return set[n.Int64()], nil
	}
	for i := range buf {
		c, err := pick(alphabet)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	// Pin one of each class at random positions so the policy always holds.
	for i, set := range []string{passwordLetters, passwordDigits, passwordSymbols} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	return string(buf), nil
}
