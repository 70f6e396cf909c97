package bulk

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"strings"

	"gatekit.org/internal/rbac"
)

// header maps column names to their position in the uploaded file. Unknown
// columns (timestamps from a previous export, for example) are ignored so
// that an exported file can be fed straight back in.
type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	record, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty file", rbac.ErrInvalidInput)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", rbac.ErrInvalidInput, err)
	}
	h := make(header, len(record))
	for i, name := range record {
		h[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return h, nil
}

func (h header) get(record []string, column string) string {
	i, ok := h[column]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// ImportUsers parses and upserts a users CSV. Rows with an id column match
// existing users by id; rows without one match by email. A non-empty
// password column replaces the stored hash; an empty one leaves it alone.
func (s *Service) ImportUsers(ctx context.Context, src io.Reader) (int, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	h, err := readHeader(r)
	if err != nil {
		return 0, err
	}
	if _, ok := h["email"]; !ok {
		return 0, fmt.Errorf("%w: missing email column", rbac.ErrInvalidInput)
	}

	var rows []rbac.User
	rowNum := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			return 0, fmt.Errorf("row %d: %w: %v", rowNum, rbac.ErrInvalidInput, err)
		}
		u, err := parseUserRow(h, record)
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", rowNum, err)
		}
		rows = append(rows, u)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: no data rows", rbac.ErrInvalidInput)
	}
	if err := s.store.ImportUsers(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func parseUserRow(h header, record []string) (rbac.User, error) {
	name := h.get(record, "name")
	if len([]rune(name)) < 2 {
		return rbac.User{}, fmt.Errorf("%w: name must be at least 2 characters", rbac.ErrInvalidInput)
	}
	email := h.get(record, "email")
	if _, err := mail.ParseAddress(email); err != nil {
		return rbac.User{}, fmt.Errorf("%w: invalid email %q", rbac.ErrInvalidInput, email)
	}
	u := rbac.User{
		ID:     h.get(record, "id"),
		Name:   name,
		Email:  strings.ToLower(email),
		Status: true,
		DNI:    h.get(record, "dni"),
		Phone:  h.get(record, "phone"),
	}
	if raw := h.get(record, "status"); raw != "" {
		status, err := strconv.ParseBool(raw)
		if err != nil {
			return rbac.User{}, fmt.Errorf("%w: invalid status %q", rbac.ErrInvalidInput, raw)
		}
		u.Status = status
	}
	if password := h.get(record, "password"); password != "" {
		if err := rbac.ValidatePassword(password); err != nil {
			return rbac.User{}, fmt.Errorf("%w: %s", rbac.ErrInvalidInput, err)
		}
		hash, err := rbac.HashPassword(password)
		if err != nil {
			return rbac.User{}, err
		}
		u.PasswordHash = hash
	}
	return u, nil
}

// ImportRoles parses and upserts a roles CSV. Every row requires an id and a
// valid role name; guard defaults to "web".
func (s *Service) ImportRoles(ctx context.Context, src io.Reader) (int, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	h, err := readHeader(r)
	if err != nil {
		return 0, err
	}

	var rows []rbac.Role
	rowNum := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			return 0, fmt.Errorf("row %d: %w: %v", rowNum, rbac.ErrInvalidInput, err)
		}
		role := rbac.Role{
			ID:    h.get(record, "id"),
			Name:  strings.ToLower(h.get(record, "name")),
			Guard: h.get(record, "guard"),
		}
		if role.ID == "" {
			return 0, fmt.Errorf("row %d: %w: id is required", rowNum, rbac.ErrInvalidInput)
		}
		if !rbac.ValidRoleName(role.Name) {
			return 0, fmt.Errorf("row %d: %w: invalid role name %q", rowNum, rbac.ErrInvalidInput, role.Name)
		}
		if role.Guard == "" {
			role.Guard = rbac.GuardWeb
		}
		rows = append(rows, role)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: no data rows", rbac.ErrInvalidInput)
	}
	if err := s.store.ImportRoles(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// ImportPermissions parses and upserts a permissions CSV.
func (s *Service) ImportPermissions(ctx context.Context, src io.Reader) (int, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	h, err := readHeader(r)
	if err != nil {
		return 0, err
	}

	var rows []rbac.Permission
	rowNum := 1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			return 0, fmt.Errorf("row %d: %w: %v", rowNum, rbac.ErrInvalidInput, err)
		}
		perm := rbac.Permission{
			ID:    h.get(record, "id"),
			Name:  h.get(record, "name"),
			Guard: h.get(record, "guard"),
		}
		if perm.ID == "" {
			return 0, fmt.Errorf("row %d: %w: id is required", rowNum, rbac.ErrInvalidInput)
		}
		if perm.Name == "" {
			return 0, fmt.Errorf("row %d: %w: name is required", rowNum, rbac.ErrInvalidInput)
		}
		if perm.Guard == "" {
			perm.Guard = rbac.GuardWeb
		}
		rows = append(rows, perm)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: no data rows", rbac.ErrInvalidInput)
	}
	if err := s.store.ImportPermissions(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
