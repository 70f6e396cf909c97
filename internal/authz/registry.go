package authz

import "strings"

// Permission keys form a closed catalog. New keys are registered here and
// seeded into the permissions table; existing keys are never renamed because
// issued tokens and stored role bundles reference them by value.
const (
	PermUsersIndex   = "users.index"
	PermUsersShow    = "users.show"
	PermUsersCreate  = "users.create"
	PermUsersEdit    = "users.edit"
	PermUsersDestroy = "users.destroy"
	PermUsersImport  = "users.import"
	PermUsersExport  = "users.export"

	PermRolesIndex   = "roles.index"
	PermRolesShow    = "roles.show"
	PermRolesCreate  = "roles.create"
	PermRolesEdit    = "roles.edit"
	PermRolesDestroy = "roles.destroy"
	PermRolesImport  = "roles.import"
	PermRolesExport  = "roles.export"

	PermPermissionsIndex   = "permissions.index"
	PermPermissionsShow    = "permissions.show"
	PermPermissionsCreate  = "permissions.create"
	PermPermissionsEdit    = "permissions.edit"
	PermPermissionsDestroy = "permissions.destroy"
	PermPermissionsImport  = "permissions.import"
	PermPermissionsExport  = "permissions.export"

	PermAPISanctum  = "api.sanctum"
	PermAPIPassport = "api.passport"
)

// Catalog lists every permission key the service can check, in seed order.
var Catalog = []string{
	PermUsersIndex, PermUsersShow, PermUsersCreate, PermUsersEdit,
	PermUsersDestroy, PermUsersImport, PermUsersExport,
	PermRolesIndex, PermRolesShow, PermRolesCreate, PermRolesEdit,
	PermRolesDestroy, PermRolesImport, PermRolesExport,
	PermPermissionsIndex, PermPermissionsShow, PermPermissionsCreate,
	PermPermissionsEdit, PermPermissionsDestroy, PermPermissionsImport,
	PermPermissionsExport,
	PermAPISanctum, PermAPIPassport,
}

var catalogSet = func() map[string]struct{} {
	set := make(map[string]struct{}, len(Catalog))
	for _, key := range Catalog {
		set[key] = struct{}{}
	}
	return set
}()

// Known reports whether key belongs to the permission catalog. Checks against
// unknown keys are legal; they simply never grant access.
func Known(key string) bool {
	_, ok := catalogSet[key]
	return ok
}

// Coarse token abilities a personal token may be restricted to. Roles still
// bound what the user can do; abilities only narrow it further.
const (
	AbilityRead  = "read"
	AbilityWrite = "write"
)

// RequiredAbility maps a permission key to the token ability needed to
// exercise it. Listing, showing, and exporting need "read"; every operation
// that mutates state needs "write". Unknown verbs count as mutations.
func RequiredAbility(perm string) string {
	switch {
	case strings.HasSuffix(perm, ".index"),
		strings.HasSuffix(perm, ".show"),
		strings.HasSuffix(perm, ".export"):
		return AbilityRead
	}
	return AbilityWrite
}
