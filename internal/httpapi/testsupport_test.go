package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"gatekit.org/internal/authz"
	"gatekit.org/internal/bulk"
	"gatekit.org/internal/extlogin"
	"gatekit.org/internal/rbac"
	"gatekit.org/internal/token"
)

// memBackend is an in-memory implementation of every store contract the API
// depends on, so the full HTTP surface can be exercised without PostgreSQL.
type memBackend struct {
	mu        sync.Mutex
	seq       int
	users     map[string]rbac.User
	roles     map[string]rbac.Role
	perms     map[string]rbac.Permission
	userRoles map[string][]string
	rolePerms map[string][]string
	access    map[string]token.AccessToken
	refresh   map[string]token.RefreshToken
	personal  map[string]token.PersonalToken
}

var (
	_ rbac.Store  = (*memBackend)(nil)
	_ token.Store = (*memBackend)(nil)
	_ authz.Store = (*memBackend)(nil)
	_ bulk.Store  = (*memBackend)(nil)
)

func newMemBackend() *memBackend {
	return &memBackend{
		users:     map[string]rbac.User{},
		roles:     map[string]rbac.Role{},
		perms:     map[string]rbac.Permission{},
		userRoles: map[string][]string{},
		rolePerms: map[string][]string{},
		access:    map[string]token.AccessToken{},
		refresh:   map[string]token.RefreshToken{},
		personal:  map[string]token.PersonalToken{},
	}
}

func (m *memBackend) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// --- rbac.Store ---

func (m *memBackend) CreateUser(_ context.Context, nu rbac.NewUser) (rbac.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == nu.Email {
			return rbac.User{}, rbac.ErrConflict
		}
	}
	now := time.Now().UTC()
	rec := rbac.User{
		ID:           m.nextID("user"),
		Name:         nu.Name,
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		ExternalID:   nu.ExternalID,
		Avatar:       nu.Avatar,
		Status:       nu.Status,
		DNI:          nu.DNI,
		Phone:        nu.Phone,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.users[rec.ID] = rec
	return rec, nil
}

func (m *memBackend) GetUser(_ context.Context, userID string) (rbac.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	return rec, nil
}

func (m *memBackend) GetUserByEmail(_ context.Context, email string) (rbac.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return rbac.User{}, rbac.ErrNotFound
}

func (m *memBackend) ListUsers(_ context.Context, q rbac.ListQuery) ([]rbac.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []rbac.User
	for _, u := range m.users {
		if q.Search != "" && !strings.Contains(strings.ToLower(u.Name), strings.ToLower(q.Search)) &&
			!strings.Contains(u.Email, strings.ToLower(q.Search)) {
			continue
		}
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.PerPage
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func (m *memBackend) UpdateUser(_ context.Context, userID string, upd rbac.UserUpdate) (rbac.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.users[userID]
	if !ok {
		return rbac.User{}, rbac.ErrNotFound
	}
	if upd.Name != nil {
		rec.Name = *upd.Name
	}
	if upd.Email != nil {
		rec.Email = *upd.Email
	}
	if upd.Password != nil {
		rec.PasswordHash = *upd.Password
	}
	if upd.ExternalID != nil {
		rec.ExternalID = *upd.ExternalID
	}
	if upd.Avatar != nil {
		rec.Avatar = *upd.Avatar
	}
	if upd.Status != nil {
		rec.Status = *upd.Status
	}
	if upd.DNI != nil {
		rec.DNI = *upd.DNI
	}
	if upd.Phone != nil {
		rec.Phone = *upd.Phone
	}
	rec.UpdatedAt = time.Now().UTC()
	m.users[userID] = rec
	return rec, nil
}

func (m *memBackend) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.users, userID)
	delete(m.userRoles, userID)
	return nil
}

func (m *memBackend) SyncUserRoles(_ context.Context, userID string, roleIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return rbac.ErrNotFound
	}
	for _, id := range roleIDs {
		if _, ok := m.roles[id]; !ok {
			return fmt.Errorf("%w: role %s not found", rbac.ErrNotFound, id)
		}
	}
	m.userRoles[userID] = append([]string(nil), roleIDs...)
	return nil
}

func (m *memBackend) RolesForUser(_ context.Context, userID string) ([]rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rbac.Role
	for _, id := range m.userRoles[userID] {
		out = append(out, m.roles[id])
	}
	return out, nil
}

func (m *memBackend) CreateRole(_ context.Context, name, guard string) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name && r.Guard == guard {
			return rbac.Role{}, rbac.ErrConflict
		}
	}
	now := time.Now().UTC()
	rec := rbac.Role{ID: m.nextID("role"), Name: name, Guard: guard, CreatedAt: now, UpdatedAt: now}
	m.roles[rec.ID] = rec
	return rec, nil
}

func (m *memBackend) GetRole(_ context.Context, roleID string) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.roles[roleID]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	return rec, nil
}

func (m *memBackend) ListRoles(_ context.Context, q rbac.ListQuery) ([]rbac.Role, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []rbac.Role
	for _, r := range m.roles {
		if q.Search != "" && !strings.Contains(r.Name, strings.ToLower(q.Search)) {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, len(all), nil
}

func (m *memBackend) UpdateRole(_ context.Context, roleID string, upd rbac.RoleUpdate) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.roles[roleID]
	if !ok {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if upd.Name != nil {
		rec.Name = *upd.Name
	}
	if upd.Guard != nil {
		rec.Guard = *upd.Guard
	}
	rec.UpdatedAt = time.Now().UTC()
	m.roles[roleID] = rec
	return rec, nil
}

func (m *memBackend) DeleteRole(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.roles, roleID)
	delete(m.rolePerms, roleID)
	for userID, ids := range m.userRoles {
		kept := ids[:0]
		for _, id := range ids {
			if id != roleID {
				kept = append(kept, id)
			}
		}
		m.userRoles[userID] = kept
	}
	return nil
}

func (m *memBackend) SyncRolePermissions(_ context.Context, roleID string, permissionNames []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return rbac.ErrNotFound
	}
	var ids []string
	for _, name := range permissionNames {
		found := ""
		for id, p := range m.perms {
			if p.Name == name {
				found = id
				break
			}
		}
		if found == "" {
			return fmt.Errorf("%w: permission %s not found", rbac.ErrNotFound, name)
		}
		ids = append(ids, found)
	}
	m.rolePerms[roleID] = ids
	return nil
}

func (m *memBackend) PermissionsForRole(_ context.Context, roleID string) ([]rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rbac.Permission
	for _, id := range m.rolePerms[roleID] {
		out = append(out, m.perms[id])
	}
	return out, nil
}

func (m *memBackend) CreatePermission(_ context.Context, name, guard string) (rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.perms {
		if p.Name == name {
			return rbac.Permission{}, rbac.ErrConflict
		}
	}
	rec := rbac.Permission{ID: m.nextID("perm"), Name: name, Guard: guard, CreatedAt: time.Now().UTC()}
	m.perms[rec.ID] = rec
	return rec, nil
}

func (m *memBackend) GetPermission(_ context.Context, permissionID string) (rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.perms[permissionID]
	if !ok {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	return rec, nil
}

func (m *memBackend) ListPermissions(_ context.Context, q rbac.ListQuery) ([]rbac.Permission, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []rbac.Permission
	for _, p := range m.perms {
		if q.Search != "" && !strings.Contains(p.Name, strings.ToLower(q.Search)) {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, len(all), nil
}

func (m *memBackend) DeletePermission(_ context.Context, permissionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.perms[permissionID]; !ok {
		return rbac.ErrNotFound
	}
	delete(m.perms, permissionID)
	for roleID, ids := range m.rolePerms {
		kept := ids[:0]
		for _, id := range ids {
			if id != permissionID {
				kept = append(kept, id)
			}
		}
		m.rolePerms[roleID] = kept
	}
	return nil
}

func (m *memBackend) EnsurePermissions(_ context.Context, names []string, guard string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range names {
		exists := false
		for _, p := range m.perms {
			if p.Name == name {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		rec := rbac.Permission{ID: m.nextID("perm"), Name: name, Guard: guard, CreatedAt: time.Now().UTC()}
		m.perms[rec.ID] = rec
	}
	return nil
}

// --- authz.Store ---

func (m *memBackend) PermissionsForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := map[string]struct{}{}
	for _, roleID := range m.userRoles[userID] {
		for _, permID := range m.rolePerms[roleID] {
			set[m.perms[permID].Name] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// --- token.Store ---

func (m *memBackend) FindUser(_ context.Context, userID string) (token.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return token.User{}, token.ErrNotFound
	}
	return tokenUser(u), nil
}

func (m *memBackend) FindUserByEmail(_ context.Context, email string) (token.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return tokenUser(u), nil
		}
	}
	return token.User{}, token.ErrNotFound
}

func tokenUser(u rbac.User) token.User {
	return token.User{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Active:       u.Status,
	}
}

func (m *memBackend) CreateAccessToken(_ context.Context, t token.AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access[t.ID] = t
	return nil
}

func (m *memBackend) FindAccessToken(_ context.Context, id string) (token.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.access[id]
	if !ok {
		return token.AccessToken{}, token.ErrNotFound
	}
	return t, nil
}

func (m *memBackend) GetAccessToken(_ context.Context, userID, id string) (token.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.access[id]
	if !ok || t.UserID != userID {
		return token.AccessToken{}, token.ErrNotFound
	}
	return t, nil
}

func (m *memBackend) ListAccessTokens(_ context.Context, userID string) ([]token.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []token.AccessToken
	for _, t := range m.access {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memBackend) RevokeAccessToken(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.access[id]
	if !ok || t.UserID != userID {
		return token.ErrNotFound
	}
	t.Revoked = true
	m.access[id] = t
	m.cascadeRefreshLocked(id)
	return nil
}

func (m *memBackend) cascadeRefreshLocked(accessTokenID string) {
	for rid, r := range m.refresh {
		if r.AccessTokenID == accessTokenID {
			r.Revoked = true
			m.refresh[rid] = r
		}
	}
}

func (m *memBackend) RevokeAllAccessTokens(_ context.Context, userID string) (int, error) {
	return m.revokeAccessWhere(func(t token.AccessToken) bool {
		return t.UserID == userID && !t.Revoked
	})
}

func (m *memBackend) RevokeOtherAccessTokens(_ context.Context, userID, currentID string) (int, error) {
	return m.revokeAccessWhere(func(t token.AccessToken) bool {
		return t.UserID == userID && t.ID != currentID && !t.Revoked
	})
}

func (m *memBackend) RevokeExpiredAccessTokens(_ context.Context, userID string, now time.Time) (int, error) {
	return m.revokeAccessWhere(func(t token.AccessToken) bool {
		return t.UserID == userID && !t.Revoked && t.ExpiresAt != nil && !t.ExpiresAt.After(now)
	})
}

func (m *memBackend) revokeAccessWhere(match func(token.AccessToken) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, t := range m.access {
		if match(t) {
			t.Revoked = true
			m.access[id] = t
			m.cascadeRefreshLocked(id)
			count++
		}
	}
	return count, nil
}

func (m *memBackend) CreateRefreshToken(_ context.Context, t token.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[t.ID] = t
	return nil
}

func (m *memBackend) FindRefreshToken(_ context.Context, id string) (token.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok {
		return token.RefreshToken{}, token.ErrNotFound
	}
	return t, nil
}

func (m *memBackend) RotateRefreshToken(_ context.Context, usedID string, access token.AccessToken, refresh token.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.refresh[usedID]
	if !ok || old.Used || old.Revoked {
		return token.ErrInvalidToken
	}
	old.Used = true
	m.refresh[usedID] = old
	m.access[access.ID] = access
	m.refresh[refresh.ID] = refresh
	return nil
}

func (m *memBackend) RevokeRefreshToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok {
		return token.ErrNotFound
	}
	t.Revoked = true
	m.refresh[id] = t
	if a, ok := m.access[t.AccessTokenID]; ok {
		a.Revoked = true
		m.access[a.ID] = a
	}
	return nil
}

func (m *memBackend) CreatePersonalToken(_ context.Context, t token.PersonalToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.personal[t.ID] = t
	return nil
}

func (m *memBackend) FindPersonalToken(_ context.Context, id string) (token.PersonalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok {
		return token.PersonalToken{}, token.ErrNotFound
	}
	return t, nil
}

func (m *memBackend) GetPersonalToken(_ context.Context, userID, id string) (token.PersonalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok || t.UserID != userID {
		return token.PersonalToken{}, token.ErrNotFound
	}
	return t, nil
}

func (m *memBackend) ListPersonalTokens(_ context.Context, userID string) ([]token.PersonalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []token.PersonalToken
	for _, t := range m.personal {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memBackend) UpdatePersonalToken(_ context.Context, userID, id string, upd token.PersonalTokenUpdate) (token.PersonalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok || t.UserID != userID {
		return token.PersonalToken{}, token.ErrNotFound
	}
	if upd.Name != nil {
		t.Name = *upd.Name
	}
	if upd.Abilities != nil {
		t.Abilities = upd.Abilities
	}
	if upd.ClearExpiry {
		t.ExpiresAt = nil
	} else if upd.ExpiresAt != nil {
		t.ExpiresAt = upd.ExpiresAt
	}
	m.personal[id] = t
	return t, nil
}

func (m *memBackend) TouchPersonalToken(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok {
		return token.ErrNotFound
	}
	t.LastUsedAt = &usedAt
	m.personal[id] = t
	return nil
}

func (m *memBackend) DeletePersonalToken(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok || t.UserID != userID {
		return token.ErrNotFound
	}
	delete(m.personal, id)
	return nil
}

func (m *memBackend) DeletePersonalTokensByName(_ context.Context, userID, name string) (int, error) {
	return m.deletePersonalWhere(func(t token.PersonalToken) bool {
		return t.UserID == userID && t.Name == name
	})
}

func (m *memBackend) DeleteAllPersonalTokens(_ context.Context, userID string) (int, error) {
	return m.deletePersonalWhere(func(t token.PersonalToken) bool {
		return t.UserID == userID
	})
}

func (m *memBackend) DeleteOtherPersonalTokens(_ context.Context, userID, currentID string) (int, error) {
	return m.deletePersonalWhere(func(t token.PersonalToken) bool {
		return t.UserID == userID && t.ID != currentID
	})
}

func (m *memBackend) DeleteExpiredPersonalTokens(_ context.Context, userID string, now time.Time) (int, error) {
	return m.deletePersonalWhere(func(t token.PersonalToken) bool {
		return t.UserID == userID && t.ExpiresAt != nil && !t.ExpiresAt.After(now)
	})
}

func (m *memBackend) deletePersonalWhere(match func(token.PersonalToken) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, t := range m.personal {
		if match(t) {
			delete(m.personal, id)
			count++
		}
	}
	return count, nil
}

// --- bulk.Store ---

func (m *memBackend) ImportUsers(ctx context.Context, users []rbac.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range users {
		if u.ID == "" {
			u.ID = m.nextID("user")
		}
		now := time.Now().UTC()
		if prev, ok := m.users[u.ID]; ok {
			u.CreatedAt = prev.CreatedAt
			if u.PasswordHash == "" {
				u.PasswordHash = prev.PasswordHash
			}
		} else {
			u.CreatedAt = now
		}
		u.UpdatedAt = now
		m.users[u.ID] = u
	}
	return nil
}

func (m *memBackend) ImportRoles(ctx context.Context, roles []rbac.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range roles {
		if prev, ok := m.roles[r.ID]; ok {
			r.CreatedAt = prev.CreatedAt
		} else {
			r.CreatedAt = time.Now().UTC()
		}
		r.UpdatedAt = time.Now().UTC()
		m.roles[r.ID] = r
	}
	return nil
}

func (m *memBackend) ImportPermissions(ctx context.Context, perms []rbac.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range perms {
		if prev, ok := m.perms[p.ID]; ok {
			p.Name = prev.Name
			p.CreatedAt = prev.CreatedAt
		} else {
			p.CreatedAt = time.Now().UTC()
		}
		m.perms[p.ID] = p
	}
	return nil
}

func (m *memBackend) AllUsers(ctx context.Context) ([]rbac.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rbac.User
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memBackend) AllRoles(ctx context.Context) ([]rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rbac.Role
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memBackend) AllPermissions(ctx context.Context) ([]rbac.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []rbac.Permission
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// --- test harness ---

const testUserPassword = "Corr3ct#Horse.Battery"

type apiClient struct {
	baseURL string
	client  *http.Client
	backend *memBackend
	users   *rbac.Service
	roleSeq int
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	return newTestAPIWithRates(t, 1000, 1000)
}

func newTestAPIWithRates(t *testing.T, issuePerMin, authPerMin int) *apiClient {
	t.Helper()

	backend := newMemBackend()
	users, err := rbac.NewService(backend)
	if err != nil {
		t.Fatalf("rbac service: %v", err)
	}
	engine, err := authz.NewEngine(backend)
	if err != nil {
		t.Fatalf("authz engine: %v", err)
	}
	tokens, err := token.NewService(backend,
		token.WithSecret("test-signing-secret"),
		token.WithIssuer("gatekit-test"),
	)
	if err != nil {
		t.Fatalf("token service: %v", err)
	}
	if err := users.EnsureCatalog(context.Background(), authz.Catalog); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}

	api := New(Config{
		Version:         "test",
		AppName:         "gatekit",
		Tokens:          tokens,
		Engine:          engine,
		Users:           users,
		Bulk:            bulk.NewService(backend, bulk.WithAppName("gatekit")),
		ExtLogin:        extlogin.NewService(users, nil, "example.test"),
		IssueRatePerMin: issuePerMin,
		AuthRatePerMin:  authPerMin,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		backend: backend,
		users:   users,
		t:       t,
	}
}

// seedUser creates a user holding the given permissions through one role.
func (c *apiClient) seedUser(email string, perms ...string) rbac.User {
	c.t.Helper()
	ctx := context.Background()
	user, err := c.users.CreateUser(ctx, "Test User", email, testUserPassword)
	if err != nil {
		c.t.Fatalf("seed user: %v", err)
	}
	if len(perms) > 0 {
		c.roleSeq++
		role, err := c.users.CreateRole(ctx, fmt.Sprintf("seeded role %s", strings.Repeat("x", c.roleSeq)), "web")
		if err != nil {
			c.t.Fatalf("seed role: %v", err)
		}
		if err := c.users.SyncRolePermissions(ctx, role.ID, perms); err != nil {
			c.t.Fatalf("seed role permissions: %v", err)
		}
		if err := c.users.SyncUserRoles(ctx, user.ID, []string{role.ID}); err != nil {
			c.t.Fatalf("seed user roles: %v", err)
		}
	}
	return user
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) patch(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPatch, path, body, headers)
}

func (c *apiClient) delete(path string, headers map[string]string) *http.Response {
	return c.do(http.MethodDelete, path, nil, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) uploadCSV(path, csvBody string, headers map[string]string) *http.Response {
	c.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "import.csv")
	if err != nil {
		c.t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte(csvBody)); err != nil {
		c.t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		c.t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("upload request: %v", err)
	}
	return resp
}

func authHeaderFor(tokenValue string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + tokenValue}
}

// obtainSanctumToken logs in through /api/sanctum/token and returns the
// plaintext personal token.
func (c *apiClient) obtainSanctumToken(email string, abilities []string) string {
	c.t.Helper()
	resp := c.post("/api/sanctum/token", map[string]any{
		"email":       email,
		"password":    testUserPassword,
		"device_name": "test-device",
		"abilities":   abilities,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected sanctum token status: %d", resp.StatusCode)
	}
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode sanctum token: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatal("empty sanctum token issued")
	}
	return payload.Token
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}
