package rbac

import "context"

// Store describes the persistence operations behind the CRUD services.
// Implementations map uniqueness violations to ErrConflict and missing rows
// to ErrNotFound. Sync methods replace an entire relation set atomically:
// detach-all-then-attach-new inside one transaction, never observable
// half-applied.
type Store interface {
	CreateUser(ctx context.Context, u NewUser) (User, error)
	GetUser(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context, q ListQuery) ([]User, int, error)
	UpdateUser(ctx context.Context, userID string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, userID string) error
	SyncUserRoles(ctx context.Context, userID string, roleIDs []string) error
	RolesForUser(ctx context.Context, userID string) ([]Role, error)

	CreateRole(ctx context.Context, name, guard string) (Role, error)
	GetRole(ctx context.Context, roleID string) (Role, error)
	ListRoles(ctx context.Context, q ListQuery) ([]Role, int, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	SyncRolePermissions(ctx context.Context, roleID string, permissionNames []string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Permission, error)

	CreatePermission(ctx context.Context, name, guard string) (Permission, error)
	GetPermission(ctx context.Context, permissionID string) (Permission, error)
	ListPermissions(ctx context.Context, q ListQuery) ([]Permission, int, error)
	DeletePermission(ctx context.Context, permissionID string) error
	EnsurePermissions(ctx context.Context, names []string, guard string) error
}
