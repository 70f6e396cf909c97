package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Service validates input and applies CRUD operations over the Store.
// Authorization is not enforced here; callers check permissions before
// invoking mutations.
type Service struct {
	store Store
}

func NewService(store Store) (*Service, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	return &Service{store: store}, nil
}

// EnsureCatalog registers the built-in permission keys under the web guard.
func (s *Service) EnsureCatalog(ctx context.Context, keys []string) error {
	return s.store.EnsurePermissions(ctx, keys, GuardWeb)
}

// --- Users ---

func (s *Service) CreateUser(ctx context.Context, name, email, password string) (User, error) {
	name = strings.TrimSpace(name)
	if len(name) < 2 {
		return User{}, fmt.Errorf("%w: user name is required", ErrInvalidInput)
	}
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := ValidatePassword(password); err != nil {
		return User{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	return s.store.CreateUser(ctx, NewUser{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Status:       true,
	})
}

// RegisterExternalUser creates a user originating from the external identity
// collaborator. The password is pre-generated and already validated there.
func (s *Service) RegisterExternalUser(ctx context.Context, u NewUser) (User, error) {
	u.Name = strings.TrimSpace(u.Name)
	u.Email = strings.TrimSpace(strings.ToLower(u.Email))
	if u.Name == "" || u.Email == "" {
		return User{}, fmt.Errorf("%w: name and email are required", ErrInvalidInput)
	}
	u.Status = true
	return s.store.CreateUser(ctx, u)
}

func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.GetUser(ctx, userID)
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return User{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.store.GetUserByEmail(ctx, email)
}

func (s *Service) ListUsers(ctx context.Context, q ListQuery) (Page[User], error) {
	q = q.Normalize()
	q.Search = strings.TrimSpace(q.Search)
	users, total, err := s.store.ListUsers(ctx, q)
	if err != nil {
		return Page[User]{}, err
	}
	return Page[User]{Items: users, Total: total, PageNum: q.Page, PerPage: q.PerPage}, nil
}

func (s *Service) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if len(name) < 2 {
			return User{}, fmt.Errorf("%w: user name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*upd.Email))
		if email == "" || !strings.Contains(email, "@") {
			return User{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		if err := ValidatePassword(*upd.Password); err != nil {
			return User{}, fmt.Errorf("%w: %s", ErrInvalidInput, err)
		}
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, err
		}
		upd.Password = &hash
	}
	return s.store.UpdateUser(ctx, userID, upd)
}

// DeleteUser removes the user row. Role assignments detach through the
// relation's cascade; issued tokens are intentionally left for the explicit
// revocation endpoints.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.DeleteUser(ctx, userID)
}

// SyncUserRoles replaces the user's entire role set in one transaction.
func (s *Service) SyncUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.SyncUserRoles(ctx, userID, dedupeStrings(roleIDs))
}

func (s *Service) RolesForUser(ctx context.Context, userID string) ([]Role, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	return s.store.RolesForUser(ctx, userID)
}

// --- Roles ---

func (s *Service) CreateRole(ctx context.Context, name, guard string) (Role, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !ValidRoleName(name) {
		return Role{}, fmt.Errorf("%w: role name must be letters and spaces, min 5 characters", ErrInvalidInput)
	}
	guard = normalizeGuard(guard)
	return s.store.CreateRole(ctx, name, guard)
}

func (s *Service) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.GetRole(ctx, roleID)
}

func (s *Service) ListRoles(ctx context.Context, q ListQuery) (Page[Role], error) {
	q = q.Normalize()
	q.Search = strings.TrimSpace(q.Search)
	roles, total, err := s.store.ListRoles(ctx, q)
	if err != nil {
		return Page[Role]{}, err
	}
	return Page[Role]{Items: roles, Total: total, PageNum: q.Page, PerPage: q.PerPage}, nil
}

func (s *Service) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	if upd.Name != nil {
		name := strings.ToLower(strings.TrimSpace(*upd.Name))
		if !ValidRoleName(name) {
			return Role{}, fmt.Errorf("%w: role name must be letters and spaces, min 5 characters", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Guard != nil {
		guard := normalizeGuard(*upd.Guard)
		upd.Guard = &guard
	}
	return s.store.UpdateRole(ctx, roleID, upd)
}

// DeleteRole detaches the role from every user without deleting users.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.DeleteRole(ctx, roleID)
}

// SyncRolePermissions replaces the role's permission bundle in one
// transaction.
func (s *Service) SyncRolePermissions(ctx context.Context, roleID string, permissionNames []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.SyncRolePermissions(ctx, roleID, dedupeStrings(permissionNames))
}

func (s *Service) PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.PermissionsForRole(ctx, roleID)
}

// --- Permissions ---

func (s *Service) CreatePermission(ctx context.Context, name, guard string) (Permission, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return Permission{}, fmt.Errorf("%w: permission name is required", ErrInvalidInput)
	}
	guard = normalizeGuard(guard)
	return s.store.CreatePermission(ctx, name, guard)
}

func (s *Service) GetPermission(ctx context.Context, permissionID string) (Permission, error) {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return Permission{}, fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	return s.store.GetPermission(ctx, permissionID)
}

func (s *Service) ListPermissions(ctx context.Context, q ListQuery) (Page[Permission], error) {
	q = q.Normalize()
	q.Search = strings.TrimSpace(q.Search)
	perms, total, err := s.store.ListPermissions(ctx, q)
	if err != nil {
		return Page[Permission]{}, err
	}
	return Page[Permission]{Items: perms, Total: total, PageNum: q.Page, PerPage: q.PerPage}, nil
}

// DeletePermission detaches the permission from every role silently.
func (s *Service) DeletePermission(ctx context.Context, permissionID string) error {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return fmt.Errorf("%w: permission_id is required", ErrInvalidInput)
	}
	return s.store.DeletePermission(ctx, permissionID)
}

func normalizeGuard(guard string) string {
	guard = strings.ToLower(strings.TrimSpace(guard))
	if guard == "" {
		return GuardWeb
	}
	return guard
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
