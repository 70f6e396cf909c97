// Package httpapi is the HTTP boundary: routing, authentication, rate
// limits, and the uniform response envelope over the core services.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/bulk"
	"gatekit.org/internal/extlogin"
	"gatekit.org/internal/obs"
	"gatekit.org/internal/rbac"
	"gatekit.org/internal/token"
)

// ReadyProbe checks the backing store for /readyz.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config carries everything API needs wired in.
type Config struct {
	Version string
	AppName string

	Tokens   *token.Service
	Engine   *authz.Engine
	Users    *rbac.Service
	Bulk     *bulk.Service
	ExtLogin *extlogin.Service

	ReadyProbe ReadyProbe

	// Requests per minute, per client IP. Issue covers the two token
	// grant endpoints and external login; Auth covers everything behind a
	// bearer token.
	IssueRatePerMin int
	AuthRatePerMin  int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	version    string
	appName    string
	tokens     *token.Service
	engine     *authz.Engine
	users      *rbac.Service
	bulk       *bulk.Service
	extLogin   *extlogin.Service
	readyProbe ReadyProbe

	issueLimit *ipLimiter
	authLimit  *ipLimiter
}

func New(cfg Config) *API {
	if cfg.IssueRatePerMin < 1 {
		cfg.IssueRatePerMin = 5
	}
	if cfg.AuthRatePerMin < 1 {
		cfg.AuthRatePerMin = 60
	}
	if cfg.AppName == "" {
		cfg.AppName = "gatekit"
	}
	a := &API{
		mux:        http.NewServeMux(),
		version:    cfg.Version,
		appName:    cfg.AppName,
		tokens:     cfg.Tokens,
		engine:     cfg.Engine,
		users:      cfg.Users,
		bulk:       cfg.Bulk,
		extLogin:   cfg.ExtLogin,
		readyProbe: cfg.ReadyProbe,
		issueLimit: newIPLimiter(cfg.IssueRatePerMin),
		authLimit:  newIPLimiter(cfg.AuthRatePerMin),
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/api/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// token issuance (throttled separately, no auth)
	a.mux.Handle("/api/passport/token", a.throttle(a.issueLimit, http.HandlerFunc(a.handlePassportToken)))
	a.mux.Handle("/api/sanctum/token", a.throttle(a.issueLimit, http.HandlerFunc(a.handleSanctumToken)))
	a.mux.Handle("/api/auth/external", a.throttle(a.issueLimit, http.HandlerFunc(a.handleExternalLogin)))

	// authenticated groups
	a.mux.Handle("/api/passport/", a.authenticated(familyPassport, http.HandlerFunc(a.routePassport)))
	a.mux.Handle("/api/sanctum/", a.authenticated(familySanctum, http.HandlerFunc(a.routeSanctum)))

	// maintainer CRUD (personal-token auth + permission checks per handler)
	a.mux.Handle("/api/users", a.authenticated(familySanctum, http.HandlerFunc(a.handleUsersCollection)))
	a.mux.Handle("/api/users/", a.authenticated(familySanctum, http.HandlerFunc(a.handleUserResource)))
	a.mux.Handle("/api/roles", a.authenticated(familySanctum, http.HandlerFunc(a.handleRolesCollection)))
	a.mux.Handle("/api/roles/", a.authenticated(familySanctum, http.HandlerFunc(a.handleRoleResource)))
	a.mux.Handle("/api/permissions", a.authenticated(familySanctum, http.HandlerFunc(a.handlePermissionsCollection)))
	a.mux.Handle("/api/permissions/", a.authenticated(familySanctum, http.HandlerFunc(a.handlePermissionResource)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped http.Handler.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 5<<20)
	h = Logging(h)
	h = SecurityHeaders(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// throttle applies a per-IP limiter in front of next.
func (a *API) throttle(lim *ipLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !lim.allow(clientIP(r)) {
			fail(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "ok",
		"service": a.appName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"success": false,
			"status":  "not_ready",
			"message": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"name":    a.appName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
