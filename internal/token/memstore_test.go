package token

import (
	"context"
	"sync"
	"time"
)

// memStore is an in-memory Store with the same conditional semantics as the
// SQL implementation, used by the service tests.
type memStore struct {
	mu       sync.Mutex
	users    map[string]User
	access   map[string]AccessToken
	refresh  map[string]RefreshToken
	personal map[string]PersonalToken
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]User{},
		access:   map[string]AccessToken{},
		refresh:  map[string]RefreshToken{},
		personal: map[string]PersonalToken{},
	}
}

func (m *memStore) addUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memStore) FindUser(_ context.Context, userID string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *memStore) FindUserByEmail(_ context.Context, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *memStore) CreateAccessToken(_ context.Context, t AccessToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.access[t.ID] = t
	return nil
}

func (m *memStore) FindAccessToken(_ context.Context, id string) (AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.access[id]
	if !ok {
		return AccessToken{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) GetAccessToken(_ context.Context, userID, id string) (AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.access[id]
	if !ok || t.UserID != userID {
		return AccessToken{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) ListAccessTokens(_ context.Context, userID string) ([]AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AccessToken
	for _, t := range m.access {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) RevokeAccessToken(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.access[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	t.Revoked = true
	m.access[id] = t
	m.cascadeRefreshLocked(id)
	return nil
}

func (m *memStore) cascadeRefreshLocked(accessTokenID string) {
	for rid, r := range m.refresh {
		if r.AccessTokenID == accessTokenID {
			r.Revoked = true
			m.refresh[rid] = r
		}
	}
}

func (m *memStore) RevokeAllAccessTokens(_ context.Context, userID string) (int, error) {
	return m.revokeAccessWhere(func(t AccessToken) bool {
		return t.UserID == userID && !t.Revoked
	})
}

func (m *memStore) RevokeOtherAccessTokens(_ context.Context, userID, currentID string) (int, error) {
	return m.revokeAccessWhere(func(t AccessToken) bool {
		return t.UserID == userID && t.ID != currentID && !t.Revoked
	})
}

func (m *memStore) RevokeExpiredAccessTokens(_ context.Context, userID string, now time.Time) (int, error) {
	return m.revokeAccessWhere(func(t AccessToken) bool {
		return t.UserID == userID && !t.Revoked && t.ExpiresAt != nil && !t.ExpiresAt.After(now)
	})
}

func (m *memStore) revokeAccessWhere(match func(AccessToken) bool) (int, error) {
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

func (m *memStore) CreateRefreshToken(_ context.Context, t RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[t.ID] = t
	return nil
}

func (m *memStore) FindRefreshToken(_ context.Context, id string) (RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok {
		return RefreshToken{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) RotateRefreshToken(_ context.Context, usedID string, access AccessToken, refresh RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.refresh[usedID]
	if !ok || old.Used || old.Revoked {
		return ErrInvalidToken
	}
	old.Used = true
	m.refresh[usedID] = old
	m.access[access.ID] = access
	m.refresh[refresh.ID] = refresh
	return nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.refresh[id]
	if !ok {
		return ErrNotFound
	}
	t.Revoked = true
	m.refresh[id] = t
	if a, ok := m.access[t.AccessTokenID]; ok {
		a.Revoked = true
		m.access[a.ID] = a
	}
	return nil
}

func (m *memStore) CreatePersonalToken(_ context.Context, t PersonalToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.personal[t.ID] = t
	return nil
}

func (m *memStore) FindPersonalToken(_ context.Context, id string) (PersonalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok {
		return PersonalToken{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) GetPersonalToken(_ context.Context, userID, id string) (PersonalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok || t.UserID != userID {
		return PersonalToken{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) ListPersonalTokens(_ context.Context, userID string) ([]PersonalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PersonalToken
	for _, t := range m.personal {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) UpdatePersonalToken(_ context.Context, userID, id string, upd PersonalTokenUpdate) (PersonalToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok || t.UserID != userID {
		return PersonalToken{}, ErrNotFound
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

func (m *memStore) TouchPersonalToken(_ context.Context, id string, usedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok {
		return ErrNotFound
	}
	t.LastUsedAt = &usedAt
	m.personal[id] = t
	return nil
}

func (m *memStore) DeletePersonalToken(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.personal[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(m.personal, id)
	return nil
}

func (m *memStore) DeletePersonalTokensByName(_ context.Context, userID, name string) (int, error) {
	return m.deletePersonalWhere(func(t PersonalToken) bool {
		return t.UserID == userID && t.Name == name
	})
}

func (m *memStore) DeleteAllPersonalTokens(_ context.Context, userID string) (int, error) {
	return m.deletePersonalWhere(func(t PersonalToken) bool {
		return t.UserID == userID
	})
}

func (m *memStore) DeleteOtherPersonalTokens(_ context.Context, userID, currentID string) (int, error) {
	return m.deletePersonalWhere(func(t PersonalToken) bool {
		return t.UserID == userID && t.ID != currentID
	})
}

func (m *memStore) DeleteExpiredPersonalTokens(_ context.Context, userID string, now time.Time) (int, error) {
	return m.deletePersonalWhere(func(t PersonalToken) bool {
		return t.UserID == userID && t.ExpiresAt != nil && !t.ExpiresAt.After(now)
	})
}

func (m *memStore) deletePersonalWhere(match func(PersonalToken) bool) (int, error) {
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

var _ Store = (*memStore)(nil)
