package bulk

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

const exportTimeLayout = time.RFC3339

// ExportUsers writes every user as CSV. Password hashes are never exported.
func (s *Service) ExportUsers(ctx context.Context, dst io.Writer) error {
	users, err := s.store.AllUsers(ctx)
	if err != nil {
		return err
	}
	w := csv.NewWriter(dst)
	if err := w.Write([]string{"id", "name", "email", "status", "dni", "phone", "created_at", "updated_at"}); err != nil {
		return err
	}
	for _, u := range users {
		record := []string{
			u.ID,
			u.Name,
			u.Email,
			strconv.FormatBool(u.Status),
			u.DNI,
			u.Phone,
			u.CreatedAt.In(s.loc).Format(exportTimeLayout),
			u.UpdatedAt.In(s.loc).Format(exportTimeLayout),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ExportRoles writes every role as CSV.
func (s *Service) ExportRoles(ctx context.Context, dst io.Writer) error {
	roles, err := s.store.AllRoles(ctx)
	if err != nil {
		return err
	}
	w := csv.NewWriter(dst)
	if err := w.Write([]string{"id", "name", "guard", "created_at", "updated_at"}); err != nil {
		return err
	}
	for _, r := range roles {
		record := []string{
			r.ID,
			r.Name,
			r.Guard,
			r.CreatedAt.In(s.loc).Format(exportTimeLayout),
			r.UpdatedAt.In(s.loc).Format(exportTimeLayout),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// ExportPermissions writes every permission as CSV.
func (s *Service) ExportPermissions(ctx context.Context, dst io.Writer) error {
	perms, err := s.store.AllPermissions(ctx)
	if err != nil {
		return err
	}
	w := csv.NewWriter(dst)
	if err := w.Write([]string{"id", "name", "guard", "created_at"}); err != nil {
		return err
	}
	for _, p := range perms {
		record := []string{
			p.ID,
			p.Name,
			p.Guard,
			p.CreatedAt.In(s.loc).Format(exportTimeLayout),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
