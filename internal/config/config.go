// Package config loads runtime settings from the environment. A local .env
// file, when present, is read first; real environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the api and migrate binaries need at startup.
type Config struct {
	Addr        string
	PGDSN       string
	TokenSecret string

	AppName  string
	Location *time.Location

	// AllowedLoginDomain gates external-identity logins. Empty means the
	// flow is disabled, never allow-all.
	AllowedLoginDomain string

	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	PersonalMaxTTL time.Duration

	IssueRatePerMin int
	AuthRatePerMin  int
}

// Load reads configuration, failing fast on missing required keys.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:               envOr("GATEKIT_ADDR", ":8080"),
		PGDSN:              os.Getenv("GATEKIT_PG_DSN"),
		TokenSecret:        os.Getenv("GATEKIT_TOKEN_SECRET"),
		AppName:            envOr("GATEKIT_APP_NAME", "gatekit"),
		AllowedLoginDomain: strings.TrimSpace(os.Getenv("GATEKIT_LOGIN_DOMAIN")),
	}
	if cfg.PGDSN == "" {
		return Config{}, fmt.Errorf("GATEKIT_PG_DSN is required")
	}
	if cfg.TokenSecret == "" {
		return Config{}, fmt.Errorf("GATEKIT_TOKEN_SECRET is required")
	}

	loc := time.UTC
	if tz := os.Getenv("GATEKIT_TIMEZONE"); tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("GATEKIT_TIMEZONE: %w", err)
		}
	}
	cfg.Location = loc

	var err error
	if cfg.AccessTTL, err = durationOr("GATEKIT_ACCESS_TTL", 15*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = durationOr("GATEKIT_REFRESH_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PersonalMaxTTL, err = durationOr("GATEKIT_PERSONAL_MAX_TTL", 180*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IssueRatePerMin, err = intOr("GATEKIT_ISSUE_RATE_PER_MIN", 5); err != nil {
		return Config{}, err
	}
	if cfg.AuthRatePerMin, err = intOr("GATEKIT_AUTH_RATE_PER_MIN", 60); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func intOr(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n < 1 {
		return 0, fmt.Errorf("%s must be at least 1", key)
	}
	return n, nil
}
