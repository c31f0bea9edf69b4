// models.go -- Shared domain types for the store package.
package store

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
)

// ErrNotFound is returned when a lookup matches no row.
// Wraps pgx.ErrNoRows so callers never import pgx for the common miss case.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned by CreateUser/UpdateUser when the
// users_email_lower_idx unique index rejects the write.
var ErrDuplicateEmail = errors.New("email already taken")

// User represents a row in the users table.
// Nullable columns are pointers; nil means SQL NULL.
type User struct {
	ID               uuid.UUID
	Name             string
	Email            string
	PasswordDigest   *string
	RememberDigest   *string
	ActivationDigest *string
	Activated        bool
	ActivatedAt      *time.Time
	ResetDigest      *string
	ResetSentAt      *time.Time
	Admin            bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Micropost represents a row in the microposts table, joined with its author's name.
type Micropost struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	AuthorName string
	Content    string
	CreatedAt  time.Time
}

// Page bounds a list query. Zero Limit means DefaultPageSize.
type Page struct {
	Limit  int
	Offset int
}

// DefaultPageSize matches the page length of the user and feed listings.
const DefaultPageSize = 30

// MaxPageSize caps caller-supplied limits.
const MaxPageSize = 100

// Normalize clamps Limit to [1, MaxPageSize] and Offset to >= 0.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
