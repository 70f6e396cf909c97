package authz

import (
	"context"
	"errors"
	"strings"
)

// Store resolves the effective permission set of a user. Implementations must
// perform the user→roles→permissions join in a single round trip; the engine
// is called on every protected request and tolerates no N+1 resolution.
type Store interface {
	PermissionsForUser(ctx context.Context, userID string) ([]string, error)
}

// Engine answers allow/deny questions against current relational state.
// It is a pure read: nothing is cached across calls, so role and permission
// mutations are visible immediately.
type Engine struct {
	store Store
}

func NewEngine(store Store) (*Engine, error) {
	if store == nil {
		return nil, errors.New("authz: store is required")
	}
	return &Engine{store: store}, nil
}

// Can reports whether the user holds perm through any assigned role.
// A user with no roles has no permissions. An unknown permission key is
// never granted but is not an error.
func (e *Engine) Can(ctx context.Context, userID, perm string) (bool, error) {
	perm = strings.TrimSpace(perm)
	if perm == "" {
		return false, nil
	}
	set, err := e.PermissionSet(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(perm), nil
}

// CanAll is the conjunction of Can over perms, short-circuiting on the first
// missing permission. The permission set is resolved once.
func (e *Engine) CanAll(ctx context.Context, userID string, perms ...string) (bool, error) {
	if len(perms) == 0 {
		return true, nil
	}
	set, err := e.PermissionSet(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, perm := range perms {
		if !set.Has(strings.TrimSpace(perm)) {
			return false, nil
		}
	}
	return true, nil
}

// PermissionSet resolves the union of permissions across every role assigned
// to the user.
func (e *Engine) PermissionSet(ctx context.Context, userID string) (PermissionSet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("authz: user id is required")
	}
	keys, err := e.store.PermissionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return NewPermissionSet(keys), nil
}

// PermissionSet is the resolved permission bundle of a principal.
type PermissionSet map[string]struct{}

func NewPermissionSet(keys []string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the permission names in unspecified order.
func (s PermissionSet) Keys() []string {
	out := make([]string, 0, len(s))
	for key := range s {
		out = append(out, key)
	}
	return out
}
