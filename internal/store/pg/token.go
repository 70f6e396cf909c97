package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gatekit.org/internal/token"
)

var _ token.Store = (*Store)(nil)

func (s *Store) FindUser(ctx context.Context, userID string) (token.User, error) {
	var u token.User
	err := s.db.QueryRowContext(ctx, `
		select id, name, email, password_hash, status from users where id = $1
	`, userID).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return token.User{}, token.ErrNotFound
	}
	if err != nil {
		return token.User{}, err
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (token.User, error) {
	var u token.User
	err := s.db.QueryRowContext(ctx, `
		select id, name, email, password_hash, status from users where email = $1
	`, email).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return token.User{}, token.ErrNotFound
	}
	if err != nil {
		return token.User{}, err
	}
	return u, nil
}

// --- External/OAuth tokens ---

const accessColumns = `id, user_id, client_id, scopes, revoked, expires_at, created_at, updated_at`

func scanAccessToken(row interface{ Scan(...any) error }) (token.AccessToken, error) {
	var (
		t         token.AccessToken
		scopes    []byte
		expiresAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.ClientID, &scopes, &t.Revoked, &expiresAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return token.AccessToken{}, err
	}
	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &t.Scopes); err != nil {
			return token.AccessToken{}, fmt.Errorf("decode scopes: %w", err)
		}
	}
	t.ExpiresAt = timePtr(expiresAt)
	return t, nil
}

func (s *Store) CreateAccessToken(ctx context.Context, t token.AccessToken) error {
	scopes, err := json.Marshal(t.Scopes)
	if err != nil {
		return fmt.Errorf("encode scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into oauth_access_tokens (id, user_id, client_id, scopes, revoked, expires_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.ID, t.UserID, t.ClientID, scopes, t.Revoked, nullTime(t.ExpiresAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *Store) FindAccessToken(ctx context.Context, id string) (token.AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `select `+accessColumns+` from oauth_access_tokens where id = $1`, id)
	t, err := scanAccessToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return token.AccessToken{}, token.ErrNotFound
	}
	if err != nil {
		return token.AccessToken{}, err
	}
	return t, nil
}

func (s *Store) GetAccessToken(ctx context.Context, userID, id string) (token.AccessToken, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accessColumns+` from oauth_access_tokens where id = $1 and user_id = $2
	`, id, userID)
	t, err := scanAccessToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return token.AccessToken{}, token.ErrNotFound
	}
	if err != nil {
		return token.AccessToken{}, err
	}
	return t, nil
}

func (s *Store) ListAccessTokens(ctx context.Context, userID string) ([]token.AccessToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+accessColumns+` from oauth_access_tokens
		where user_id = $1
		order by created_at desc, id desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []token.AccessToken
	for rows.Next() {
		t, err := scanAccessToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *Store) RevokeAccessToken(ctx context.Context, userID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update oauth_access_tokens set revoked = true, updated_at = now()
		where id = $1 and user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return token.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `
		update oauth_refresh_tokens set revoked = true where access_token_id = $1
	`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RevokeAllAccessTokens(ctx context.Context, userID string) (int, error) {
	return s.revokeAccessTokensWhere(ctx, `user_id = $1 and not revoked`, userID)
}

func (s *Store) RevokeOtherAccessTokens(ctx context.Context, userID, currentID string) (int, error) {
	return s.revokeAccessTokensWhere(ctx, `user_id = $1 and id <> $2 and not revoked`, userID, currentID)
}

func (s *Store) RevokeExpiredAccessTokens(ctx context.Context, userID string, now time.Time) (int, error) {
	return s.revokeAccessTokensWhere(ctx,
		`user_id = $1 and not revoked and expires_at is not null and expires_at <= $2`, userID, now)
}

// revokeAccessTokensWhere revokes matching access tokens and cascades to
// their refresh tokens inside one transaction. The WHERE clause is evaluated
// once, so the affected set cannot shift between the two statements.
func (s *Store) revokeAccessTokensWhere(ctx context.Context, where string, args ...any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		update oauth_access_tokens set revoked = true, updated_at = now()
		where `+where+`
		returning id
	`, args...)
	if err != nil {
		return 0, err
	}
	var revokedIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		revokedIDs = append(revokedIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(revokedIDs) > 0 {
		placeholders := make([]string, len(revokedIDs))
		cascadeArgs := make([]any, len(revokedIDs))
		for i, id := range revokedIDs {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			cascadeArgs[i] = id
		}
		if _, err := tx.ExecContext(ctx, `
			update oauth_refresh_tokens set revoked = true
			where access_token_id in (`+strings.Join(placeholders, ", ")+`)
		`, cascadeArgs...); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(revokedIDs), nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, t token.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into oauth_refresh_tokens (id, access_token_id, token_hash, revoked, used, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.AccessTokenID, t.TokenHash, t.Revoked, t.Used, t.ExpiresAt, t.CreatedAt)
	return err
}

func (s *Store) FindRefreshToken(ctx context.Context, id string) (token.RefreshToken, error) {
	var t token.RefreshToken
	err := s.db.QueryRowContext(ctx, `
		select id, access_token_id, token_hash, revoked, used, expires_at, created_at
		from oauth_refresh_tokens where id = $1
	`, id).Scan(&t.ID, &t.AccessTokenID, &t.TokenHash, &t.Revoked, &t.Used, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return token.RefreshToken{}, token.ErrNotFound
	}
	if err != nil {
		return token.RefreshToken{}, err
	}
	return t, nil
}

func (s *Store) RotateRefreshToken(ctx context.Context, usedID string, access token.AccessToken, refresh token.RefreshToken) error {
	scopes, err := json.Marshal(access.Scopes)
	if err != nil {
		return fmt.Errorf("encode scopes: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// One-time use: the conditional update is what serializes concurrent
	// redemptions of the same refresh token.
	res, err := tx.ExecContext(ctx, `
		update oauth_refresh_tokens set used = true
		where id = $1 and not used and not revoked
	`, usedID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return token.ErrInvalidToken
	}
	if _, err := tx.ExecContext(ctx, `
		insert into oauth_access_tokens (id, user_id, client_id, scopes, revoked, expires_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, access.ID, access.UserID, access.ClientID, scopes, access.Revoked, nullTime(access.ExpiresAt), access.CreatedAt, access.UpdatedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		insert into oauth_refresh_tokens (id, access_token_id, token_hash, revoked, used, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, refresh.ID, refresh.AccessTokenID, refresh.TokenHash, refresh.Revoked, refresh.Used, refresh.ExpiresAt, refresh.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var accessTokenID string
	err = tx.QueryRowContext(ctx, `
		update oauth_refresh_tokens set revoked = true
		where id = $1
		returning access_token_id
	`, id).Scan(&accessTokenID)
	if errors.Is(err, sql.ErrNoRows) {
		return token.ErrNotFound
	}
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		update oauth_access_tokens set revoked = true, updated_at = now() where id = $1
	`, accessTokenID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Personal-access tokens ---

const personalColumns = `id, user_id, name, token_hash, abilities, last_used_at, expires_at, created_at, updated_at`

func scanPersonalToken(row interface{ Scan(...any) error }) (token.PersonalToken, error) {
	var (
		t          token.PersonalToken
		abilities  []byte
		lastUsedAt sql.NullTime
		expiresAt  sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Name, &t.TokenHash, &abilities, &lastUsedAt, &expiresAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return token.PersonalToken{}, err
	}
	if len(abilities) > 0 {
		if err := json.Unmarshal(abilities, &t.Abilities); err != nil {
			return token.PersonalToken{}, fmt.Errorf("decode abilities: %w", err)
		}
	}
	t.LastUsedAt = timePtr(lastUsedAt)
	t.ExpiresAt = timePtr(expiresAt)
	return t, nil
}

func (s *Store) CreatePersonalToken(ctx context.Context, t token.PersonalToken) error {
	abilities, err := json.Marshal(t.Abilities)
	if err != nil {
		return fmt.Errorf("encode abilities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into personal_access_tokens (id, user_id, name, token_hash, abilities, last_used_at, expires_at, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.UserID, t.Name, t.TokenHash, abilities, nullTime(t.LastUsedAt), nullTime(t.ExpiresAt), t.CreatedAt, t.UpdatedAt)
	return err
}

func (s *Store) FindPersonalToken(ctx context.Context, id string) (token.PersonalToken, error) {
	row := s.db.QueryRowContext(ctx, `select `+personalColumns+` from personal_access_tokens where id = $1`, id)
	t, err := scanPersonalToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return token.PersonalToken{}, token.ErrNotFound
	}
	if err != nil {
		return token.PersonalToken{}, err
	}
	return t, nil
}

func (s *Store) GetPersonalToken(ctx context.Context, userID, id string) (token.PersonalToken, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+personalColumns+` from personal_access_tokens where id = $1 and user_id = $2
	`, id, userID)
	t, err := scanPersonalToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return token.PersonalToken{}, token.ErrNotFound
	}
	if err != nil {
		return token.PersonalToken{}, err
	}
	return t, nil
}

func (s *Store) ListPersonalTokens(ctx context.Context, userID string) ([]token.PersonalToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+personalColumns+` from personal_access_tokens
		where user_id = $1
		order by last_used_at desc nulls last, created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []token.PersonalToken
	for rows.Next() {
		t, err := scanPersonalToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *Store) UpdatePersonalToken(ctx context.Context, userID, id string, upd token.PersonalTokenUpdate) (token.PersonalToken, error) {
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
	if upd.Abilities != nil {
		abilities, err := json.Marshal(upd.Abilities)
		if err != nil {
			return token.PersonalToken{}, fmt.Errorf("encode abilities: %w", err)
		}
		sets = append(sets, fmt.Sprintf("abilities = $%d", idx))
		args = append(args, abilities)
		idx++
	}
	if upd.ClearExpiry {
		sets = append(sets, "expires_at = NULL")
	} else if upd.ExpiresAt != nil {
		sets = append(sets, fmt.Sprintf("expires_at = $%d", idx))
		args = append(args, *upd.ExpiresAt)
		idx++
	}
	if len(sets) > 0 {
		sets = append(sets, "updated_at = now()")
		query := fmt.Sprintf(
			`update personal_access_tokens set %s where id = $%d and user_id = $%d`,
			strings.Join(sets, ", "), idx, idx+1)
		args = append(args, id, userID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return token.PersonalToken{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return token.PersonalToken{}, err
		}
		if aff == 0 {
			return token.PersonalToken{}, token.ErrNotFound
		}
	}
	return s.GetPersonalToken(ctx, userID, id)
}

func (s *Store) TouchPersonalToken(ctx context.Context, id string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update personal_access_tokens set last_used_at = $2 where id = $1
	`, id, usedAt)
	return err
}

func (s *Store) DeletePersonalToken(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from personal_access_tokens where id = $1 and user_id = $2
	`, id, userID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return token.ErrNotFound
	}
	return nil
}

func (s *Store) DeletePersonalTokensByName(ctx context.Context, userID, name string) (int, error) {
	return s.deletePersonal(ctx, `user_id = $1 and name = $2`, userID, name)
}

func (s *Store) DeleteAllPersonalTokens(ctx context.Context, userID string) (int, error) {
	return s.deletePersonal(ctx, `user_id = $1`, userID)
}

func (s *Store) DeleteOtherPersonalTokens(ctx context.Context, userID, currentID string) (int, error) {
	// Single conditional delete: the caller's own token id is excluded in the
	// statement itself, never through a read-then-write race.
	return s.deletePersonal(ctx, `user_id = $1 and id <> $2`, userID, currentID)
}

func (s *Store) DeleteExpiredPersonalTokens(ctx context.Context, userID string, now time.Time) (int, error) {
	return s.deletePersonal(ctx, `user_id = $1 and expires_at is not null and expires_at <= $2`, userID, now)
}

func (s *Store) deletePersonal(ctx context.Context, where string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from personal_access_tokens where `+where, args...)
	if err != nil {
		return 0, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(aff), nil
}
