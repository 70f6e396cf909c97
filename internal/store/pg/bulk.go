package pg

import (
	"context"

	"gatekit.org/internal/bulk"
	"gatekit.org/internal/ids"
	"gatekit.org/internal/rbac"
)

var _ bulk.Store = (*Store)(nil)

// ImportUsers upserts the whole batch in one transaction. Rows with an id
// match on id, rows without one match on email. An empty password hash never
// overwrites a stored one, so re-importing an export leaves passwords alone.
func (s *Store) ImportUsers(ctx context.Context, rows []rbac.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	const byID = `
		insert into users (id, name, email, password_hash, status, dni, phone, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, now(), now())
		on conflict (id) do update set
			name = excluded.name,
			email = excluded.email,
			password_hash = case when excluded.password_hash <> '' then excluded.password_hash else users.password_hash end,
			status = excluded.status,
			dni = excluded.dni,
			phone = excluded.phone,
			updated_at = now()
		where (users.name, users.email, users.status, users.dni, users.phone)
			is distinct from (excluded.name, excluded.email, excluded.status, excluded.dni, excluded.phone)
			or excluded.password_hash <> ''
	`
	const byEmail = `
		insert into users (id, name, email, password_hash, status, dni, phone, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, now(), now())
		on conflict (email) do update set
			name = excluded.name,
			password_hash = case when excluded.password_hash <> '' then excluded.password_hash else users.password_hash end,
			status = excluded.status,
			dni = excluded.dni,
			phone = excluded.phone,
			updated_at = now()
		where (users.name, users.status, users.dni, users.phone)
			is distinct from (excluded.name, excluded.status, excluded.dni, excluded.phone)
			or excluded.password_hash <> ''
	`
	for _, u := range rows {
		query := byID
		id := u.ID
		if id == "" {
			query = byEmail
			id = ids.New()
		}
		if _, err := tx.ExecContext(ctx, query,
			id, u.Name, u.Email, u.PasswordHash, u.Status, nullIfEmpty(u.DNI), nullIfEmpty(u.Phone)); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return rbac.ErrConflict
			}
			return err
		}
	}
	return tx.Commit()
}

// ImportRoles upserts roles by id in one transaction.
func (s *Store) ImportRoles(ctx context.Context, rows []rbac.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `
			insert into roles (id, name, guard, created_at, updated_at)
			values ($1, $2, $3, now(), now())
			on conflict (id) do update set
				name = excluded.name,
				guard = excluded.guard,
				updated_at = now()
			where (roles.name, roles.guard) is distinct from (excluded.name, excluded.guard)
		`, r.ID, r.Name, r.Guard); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return rbac.ErrConflict
			}
			return err
		}
	}
	return tx.Commit()
}

// ImportPermissions upserts permissions by id in one transaction. Names stay
// immutable: an id match only refreshes the guard.
func (s *Store) ImportPermissions(ctx context.Context, rows []rbac.Permission) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range rows {
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, name, guard, created_at)
			values ($1, $2, $3, now())
			on conflict (id) do update set guard = excluded.guard
			where permissions.guard is distinct from excluded.guard
		`, p.ID, p.Name, p.Guard); err != nil {
			if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
				return rbac.ErrConflict
			}
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) AllUsers(ctx context.Context) ([]rbac.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+` from users order by created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []rbac.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) AllRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, guard, created_at, updated_at from roles order by created_at, id
	`)
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

func (s *Store) AllPermissions(ctx context.Context) ([]rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, guard, created_at from permissions order by name
	`)
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
