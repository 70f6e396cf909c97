package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"gatekit.org/internal/audit"
	"gatekit.org/internal/authz"
	"gatekit.org/internal/rbac"
)

type createUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type updateUserRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Password *string `json:"password"`
	Status   *bool   `json:"status"`
	DNI      *string `json:"dni"`
	Phone    *string `json:"phone"`
}

type createRoleRequest struct {
	Name  string `json:"name"`
	Guard string `json:"guard"`
}

type updateRoleRequest struct {
	Name  *string `json:"name"`
	Guard *string `json:"guard"`
}

type createPermissionRequest struct {
	Name  string `json:"name"`
	Guard string `json:"guard"`
}

type syncRolesRequest struct {
	RoleIDs []string `json:"role_ids"`
}

type syncPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func listQueryFromRequest(r *http.Request) rbac.ListQuery {
	q := rbac.ListQuery{Search: r.URL.Query().Get("search")}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		q.Page = page
	}
	if perPage, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil {
		q.PerPage = perPage
	}
	return q
}

// --- Users ---

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, authz.PermUsersIndex) {
			return
		}
		page, err := a.users.ListUsers(r.Context(), listQueryFromRequest(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"data": page})
	case http.MethodPost:
		if !a.requirePermission(w, r, authz.PermUsersCreate) {
			return
		}
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.users.CreateUser(r.Context(), req.Name, req.Email, req.Password)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "users.create", map[string]any{"user_id": user.ID, "email": user.Email})
		w.Header().Set("Location", fmt.Sprintf("/api/users/%s", user.ID))
		respond(w, http.StatusCreated, map[string]any{"user": user})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/users/"), "/")
	switch path {
	case "":
		fail(w, http.StatusNotFound, "resource not found")
	case "export":
		a.exportEntity(w, r, authz.PermUsersExport, "Users", a.bulk.ExportUsers)
	case "import":
		a.importEntity(w, r, authz.PermUsersImport, "users", a.bulk.ImportUsers)
	default:
		if id, ok := strings.CutSuffix(path, "/roles"); ok && !strings.Contains(id, "/") {
			a.syncUserRoles(w, r, id)
			return
		}
		if strings.Contains(path, "/") {
			fail(w, http.StatusNotFound, "resource not found")
			return
		}
		a.userResource(w, r, path)
	}
}

func (a *API) userResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, authz.PermUsersShow) {
			return
		}
		user, err := a.users.GetUser(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		roles, err := a.users.RolesForUser(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		user.Roles = roles
		respond(w, http.StatusOK, map[string]any{"user": user})
	case http.MethodPatch:
		if !a.requirePermission(w, r, authz.PermUsersEdit) {
			return
		}
		var req updateUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		user, err := a.users.UpdateUser(r.Context(), id, rbac.UserUpdate{
			Name:     req.Name,
			Email:    req.Email,
			Password: req.Password,
			Status:   req.Status,
			DNI:      req.DNI,
			Phone:    req.Phone,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "users.update", map[string]any{"user_id": id})
		respond(w, http.StatusOK, map[string]any{"user": user})
	case http.MethodDelete:
		if !a.requirePermission(w, r, authz.PermUsersDestroy) {
			return
		}
		if err := a.users.DeleteUser(r.Context(), id); err != nil {
			handleServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "users.destroy", map[string]any{"user_id": id})
		respond(w, http.StatusOK, map[string]any{"deleted": id})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) syncUserRoles(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	if !a.requirePermission(w, r, authz.PermUsersEdit) {
		return
	}
	var req syncRolesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.users.SyncUserRoles(r.Context(), userID, req.RoleIDs); err != nil {
		handleServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "users.roles.sync", map[string]any{
		"user_id": userID,
		"count":   len(req.RoleIDs),
	})
	respond(w, http.StatusOK, map[string]any{"user_id": userID, "role_ids": req.RoleIDs})
}

// --- Roles ---

func (a *API) handleRolesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, authz.PermRolesIndex) {
			return
		}
		page, err := a.users.ListRoles(r.Context(), listQueryFromRequest(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"data": page})
	case http.MethodPost:
		if !a.requirePermission(w, r, authz.PermRolesCreate) {
			return
		}
		var req createRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.users.CreateRole(r.Context(), req.Name, req.Guard)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "roles.create", map[string]any{"role_id": role.ID, "name": role.Name})
		w.Header().Set("Location", fmt.Sprintf("/api/roles/%s", role.ID))
		respond(w, http.StatusCreated, map[string]any{"role": role})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/roles/"), "/")
	switch path {
	case "":
		fail(w, http.StatusNotFound, "resource not found")
	case "export":
		a.exportEntity(w, r, authz.PermRolesExport, "Roles", a.bulk.ExportRoles)
	case "import":
		a.importEntity(w, r, authz.PermRolesImport, "roles", a.bulk.ImportRoles)
	default:
		if id, ok := strings.CutSuffix(path, "/permissions"); ok && !strings.Contains(id, "/") {
			a.syncRolePermissions(w, r, id)
			return
		}
		if strings.Contains(path, "/") {
			fail(w, http.StatusNotFound, "resource not found")
			return
		}
		a.roleResource(w, r, path)
	}
}

func (a *API) roleResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, authz.PermRolesShow) {
			return
		}
		role, err := a.users.GetRole(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		perms, err := a.users.PermissionsForRole(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		role.Permissions = perms
		respond(w, http.StatusOK, map[string]any{"role": role})
	case http.MethodPatch:
		if !a.requirePermission(w, r, authz.PermRolesEdit) {
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		role, err := a.users.UpdateRole(r.Context(), id, rbac.RoleUpdate{Name: req.Name, Guard: req.Guard})
		if err != nil {
			handleServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "roles.update", map[string]any{"role_id": id})
		respond(w, http.StatusOK, map[string]any{"role": role})
	case http.MethodDelete:
		if !a.requirePermission(w, r, authz.PermRolesDestroy) {
			return
		}
		if err := a.users.DeleteRole(r.Context(), id); err != nil {
			handleServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "roles.destroy", map[string]any{"role_id": id})
		respond(w, http.StatusOK, map[string]any{"deleted": id})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) syncRolePermissions(w http.ResponseWriter, r *http.Request, roleID string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	if !a.requirePermission(w, r, authz.PermPermissionsEdit) {
		return
	}
	var req syncPermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.users.SyncRolePermissions(r.Context(), roleID, req.Permissions); err != nil {
		handleServiceError(w, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "roles.permissions.sync", map[string]any{
		"role_id": roleID,
		"count":   len(req.Permissions),
	})
	respond(w, http.StatusOK, map[string]any{"role_id": roleID, "permissions": req.Permissions})
}

// --- Permissions ---

func (a *API) handlePermissionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, authz.PermPermissionsIndex) {
			return
		}
		page, err := a.users.ListPermissions(r.Context(), listQueryFromRequest(r))
		if err != nil {
			handleServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"data": page})
	case http.MethodPost:
		if !a.requirePermission(w, r, authz.PermPermissionsCreate) {
			return
		}
		var req createPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		perm, err := a.users.CreatePermission(r.Context(), req.Name, req.Guard)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permissions.create", map[string]any{"permission_id": perm.ID, "name": perm.Name})
		respond(w, http.StatusCreated, map[string]any{"permission": perm})
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handlePermissionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/permissions/"), "/")
	switch path {
	case "":
		fail(w, http.StatusNotFound, "resource not found")
		return
	case "export":
		a.exportEntity(w, r, authz.PermPermissionsExport, "Permissions", a.bulk.ExportPermissions)
		return
	case "import":
		a.importEntity(w, r, authz.PermPermissionsImport, "permissions", a.bulk.ImportPermissions)
		return
	}
	if strings.Contains(path, "/") {
		fail(w, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if !a.requirePermission(w, r, authz.PermPermissionsShow) {
			return
		}
		perm, err := a.users.GetPermission(r.Context(), path)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"permission": perm})
	case http.MethodDelete:
		if !a.requirePermission(w, r, authz.PermPermissionsDestroy) {
			return
		}
		if err := a.users.DeletePermission(r.Context(), path); err != nil {
			handleServiceError(w, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "permissions.destroy", map[string]any{"permission_id": path})
		respond(w, http.StatusOK, map[string]any{"deleted": path})
	default:
		// Permission names are immutable; there is no update.
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}
