package users

import (
	"errors"
	"time"
)

var (
	// ErrSelfChange is returned when an administrator tries to demote or
	// deactivate their own account.
	ErrSelfChange = errors.New("users: cannot change own account")
	// ErrUnknownRole indicates a role name absent from the catalog.
	ErrUnknownRole = errors.New("users: unknown role")
)

// User represents a user account for management.
type User struct {
	ID          int64
	Email       string
	Name        string
	Role        string
	IsActive    bool
	LastLoginAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewUser carries the fields of a user being created.
type NewUser struct {
	Email        string
	Name         string
	Role         string
	PasswordHash string
}

// ListFilter narrows the user listing.
type ListFilter struct {
	Role   string
	Search string
	Limit  int
	Offset int
}
