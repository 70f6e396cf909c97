// Package bulk moves users, roles, and permissions in and out of the system
// as CSV batches. Imports are all-or-nothing: the store commits a batch in a
// single transaction, and the first invalid row aborts the whole upload.
package bulk

import (
	"context"
	"fmt"
	"time"

	"gatekit.org/internal/rbac"
)

// Store is the persistence surface bulk operations need. Import methods
// upsert the whole slice inside one transaction: rows carrying an id match
// on id, rows without one match on the entity's natural key.
type Store interface {
	ImportUsers(ctx context.Context, rows []rbac.User) error
	ImportRoles(ctx context.Context, rows []rbac.Role) error
	ImportPermissions(ctx context.Context, rows []rbac.Permission) error

	AllUsers(ctx context.Context) ([]rbac.User, error)
	AllRoles(ctx context.Context) ([]rbac.Role, error)
	AllPermissions(ctx context.Context) ([]rbac.Permission, error)
}

// Service reads and writes entity batches.
type Service struct {
	store   Store
	appName string
	loc     *time.Location
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithAppName sets the application name used in export filenames.
func WithAppName(name string) Option {
	return func(s *Service) { s.appName = name }
}

// WithLocation sets the timezone used for export filename timestamps.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a bulk service around the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:   store,
		appName: "gatekit",
		loc:     time.UTC,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const filenameTimeLayout = "02-01-2006 15-04-05"

// Filename returns the download name for an export of the given entity,
// e.g. "gatekit - Users 31-08-2026 14-05-09.csv".
func (s *Service) Filename(entity string) string {
	return fmt.Sprintf("%s - %s %s.csv", s.appName, entity, s.now().In(s.loc).Format(filenameTimeLayout))
}
