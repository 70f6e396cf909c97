package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gatekit.org/internal/ids"
	"gatekit.org/internal/rbac"
)

var _ rbac.Store = (*Store)(nil)

const userColumns = `id, name, email, password_hash, external_id, avatar, status, dni, phone, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (rbac.User, error) {
	var (
		u                              rbac.User
		externalID, avatar, dni, phone sql.NullString
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &externalID, &avatar, &u.Status, &dni, &phone, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return rbac.User{}, err
	}
	u.ExternalID = externalID.String
	u.Avatar = avatar.String
	u.DNI = dni.String
	u.Phone = phone.String
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, nu rbac.NewUser) (rbac.User, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, name, email, password_hash, external_id, avatar, status, dni, phone)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		returning `+userColumns+`
	`, ids.New(), nu.Name, nu.Email, nu.PasswordHash, nullIfEmpty(nu.ExternalID), nullIfEmpty(nu.Avatar), nu.Status, nullIfEmpty(nu.DNI), nullIfEmpty(nu.Phone))
	user, err := scanUser(row)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.User{}, rbac.ErrConflict
		}
		return rbac.User{}, err
	}
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, userID string) (rbac.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, userID)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.User{}, err
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (rbac.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.User{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.User{}, err
	}
	return user, nil
}

func (s *Store) ListUsers(ctx context.Context, q rbac.ListQuery) ([]rbac.User, int, error) {
	where, args := searchClause(q.Search, []string{"name", "email"})
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from users`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, q.PerPage, q.Offset())
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select `+userColumns+` from users%s order by created_at, id limit $%d offset $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []rbac.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (s *Store) UpdateUser(ctx context.Context, userID string, upd rbac.UserUpdate) (rbac.User, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	set := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, idx))
		args = append(args, value)
		idx++
	}
	if upd.Name != nil {
		set("name", *upd.Name)
	}
	if upd.Email != nil {
		set("email", *upd.Email)
	}
	if upd.Password != nil {
		set("password_hash", *upd.Password)
	}
	if upd.ExternalID != nil {
		set("external_id", nullIfEmpty(*upd.ExternalID))
	}
	if upd.Avatar != nil {
		set("avatar", nullIfEmpty(*upd.Avatar))
	}
	if upd.Status != nil {
		set("status", *upd.Status)
	}
	if upd.DNI != nil {
		set("dni", nullIfEmpty(*upd.DNI))
	}
	if upd.Phone != nil {
		set("phone", nullIfEmpty(*upd.Phone))
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update users set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, userID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return rbac.User{}, rbac.ErrConflict
			}
			return rbac.User{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return rbac.User{}, err
		}
		if aff == 0 {
			return rbac.User{}, rbac.ErrNotFound
		}
	}
	return s.GetUser(ctx, userID)
}

func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) SyncUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from users where id = $1`, userID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
		return err
	}
	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			values ($1, $2)
		`, userID, roleID); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
				return fmt.Errorf("%w: role %s not found", rbac.ErrNotFound, roleID)
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.name, r.guard, r.created_at, r.updated_at
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var r rbac.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Guard, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *Store) CreateRole(ctx context.Context, name, guard string) (rbac.Role, error) {
	var role rbac.Role
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, guard)
		values ($1, $2, $3)
		returning id, name, guard, created_at, updated_at
	`, ids.New(), name, guard)
	if err := row.Scan(&role.ID, &role.Name, &role.Guard, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Role{}, rbac.ErrConflict
		}
		return rbac.Role{}, err
	}
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (rbac.Role, error) {
	var role rbac.Role
	err := s.db.QueryRowContext(ctx, `
		select id, name, guard, created_at, updated_at from roles where id = $1
	`, roleID).Scan(&role.ID, &role.Name, &role.Guard, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Role{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Role{}, err
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context, q rbac.ListQuery) ([]rbac.Role, int, error) {
	where, args := searchClause(q.Search, []string{"name"})
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from roles`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, q.PerPage, q.Offset())
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select id, name, guard, created_at, updated_at from roles%s order by created_at, id limit $%d offset $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var roles []rbac.Role
	for rows.Next() {
		var r rbac.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Guard, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, 0, err
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return roles, total, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd rbac.RoleUpdate) (rbac.Role, error) {
	var (
		sets []string
		args []any
		idx  = 1
	)
	if upd.Name != nil {
		sets = append(sets, fmt.Sprintf("name = $%d", idx))
		args = append(args, *upd.Name)
		idx++
	}
	if upd.Guard != nil {
		sets = append(sets, fmt.Sprintf("guard = $%d", idx))
		args = append(args, *upd.Guard)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(`update roles set %s where id = $%d`, strings.Join(sets, ", "), idx)
		args = append(args, roleID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return rbac.Role{}, rbac.ErrConflict
			}
			return rbac.Role{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return rbac.Role{}, err
		}
		if aff == 0 {
			return rbac.Role{}, rbac.ErrNotFound
		}
	}
	return s.GetRole(ctx, roleID)
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, roleID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) SyncRolePermissions(ctx context.Context, roleID string, permissionNames []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1`, roleID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rbac.ErrNotFound
		}
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
		return err
	}
	for _, name := range permissionNames {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where name = $1`, name).Scan(&permID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: permission %s not found", rbac.ErrNotFound, name)
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
		`, roleID, permID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.id, p.name, p.guard, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Guard, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (s *Store) CreatePermission(ctx context.Context, name, guard string) (rbac.Permission, error) {
	var perm rbac.Permission
	row := s.db.QueryRowContext(ctx, `
		insert into permissions (id, name, guard)
		values ($1, $2, $3)
		returning id, name, guard, created_at
	`, ids.New(), name, guard)
	if err := row.Scan(&perm.ID, &perm.Name, &perm.Guard, &perm.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return rbac.Permission{}, rbac.ErrConflict
		}
		return rbac.Permission{}, err
	}
	return perm, nil
}

func (s *Store) GetPermission(ctx context.Context, permissionID string) (rbac.Permission, error) {
	var perm rbac.Permission
	err := s.db.QueryRowContext(ctx, `
		select id, name, guard, created_at from permissions where id = $1
	`, permissionID).Scan(&perm.ID, &perm.Name, &perm.Guard, &perm.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	if err != nil {
		return rbac.Permission{}, err
	}
	return perm, nil
}

func (s *Store) ListPermissions(ctx context.Context, q rbac.ListQuery) ([]rbac.Permission, int, error) {
	where, args := searchClause(q.Search, []string{"name"})
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from permissions`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, q.PerPage, q.Offset())
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`select id, name, guard, created_at from permissions%s order by name limit $%d offset $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var perms []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Guard, &p.CreatedAt); err != nil {
			return nil, 0, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return perms, total, nil
}

func (s *Store) DeletePermission(ctx context.Context, permissionID string) error {
	res, err := s.db.ExecContext(ctx, `delete from permissions where id = $1`, permissionID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) EnsurePermissions(ctx context.Context, names []string, guard string) error {
	for _, name := range names {
		if _, err := s.db.ExecContext(ctx, `
			insert into permissions (id, name, guard)
			values ($1, $2, $3)
			on conflict (name) do nothing
		`, ids.New(), name, guard); err != nil {
			return err
		}
	}
	return nil
}

// searchClause builds the shared listing filter: case-insensitive substring
// match over the given columns plus an exact id match on the raw term.
func searchClause(search string, columns []string) (string, []any) {
	if search == "" {
		return "", nil
	}
	parts := make([]string, 0, len(columns)+1)
	for _, col := range columns {
		parts = append(parts, fmt.Sprintf("%s ilike '%%' || $1 || '%%'", col))
	}
	parts = append(parts, "id = $1")
	return " where (" + strings.Join(parts, " or ") + ")", []any{search}
}
