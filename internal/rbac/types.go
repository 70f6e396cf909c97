package rbac

import "time"

// GuardWeb is the default guard tag separating web-facing role and
// permission namespaces from API-only ones.
const GuardWeb = "web"

// User is an account managed by the maintainer screens. PasswordHash never
// leaves the service layer.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	ExternalID   string     `json:"external_id,omitempty"`
	Avatar       string     `json:"avatar,omitempty"`
	Status       bool       `json:"status"`
	DNI          string     `json:"dni,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Roles        []Role     `json:"roles,omitempty"`
}

// Role is a named bundle of permissions within a guard.
type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Guard       string       `json:"guard"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission is a registered action identifier. Names are immutable once
// registered; only creation and deletion are supported mutations.
type Permission struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Guard     string    `json:"guard"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUser carries the fields accepted on user creation.
type NewUser struct {
	Name         string
	Email        string
	PasswordHash string
	ExternalID   string
	Avatar       string
	Status       bool
	DNI          string
	Phone        string
}

// UserUpdate mutates only the fields whose pointers are set.
type UserUpdate struct {
	Name       *string
	Email      *string
	Password   *string
	ExternalID *string
	Avatar     *string
	Status     *bool
	DNI        *string
	Phone      *string
}

// RoleUpdate mutates only the fields whose pointers are set.
type RoleUpdate struct {
	Name  *string
	Guard *string
}

// ListQuery is the shared search/sort/paginate listing contract:
// case-insensitive substring match on the entity's name-like columns, exact
// id match when the term is numeric-looking, bounded page size.
type ListQuery struct {
	Search  string
	Page    int
	PerPage int
}

const (
	defaultPerPage = 10
	maxPerPage     = 100
)

// Normalize clamps pagination to sane bounds.
func (q ListQuery) Normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage < 1 {
		q.PerPage = defaultPerPage
	}
	if q.PerPage > maxPerPage {
		q.PerPage = maxPerPage
	}
	return q
}

// Offset returns the row offset for the normalized query.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.PerPage
}

// Page wraps a listing result with its total row count.
type Page[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	PageNum int `json:"page"`
	PerPage int `json:"per_page"`
}
