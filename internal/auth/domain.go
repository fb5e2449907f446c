package auth

import (
	"time"

	"github.com/ecoloimp/ecoloimp/internal/authz"
)

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	Role         string
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subject converts the account into the identity used by authorization.
func (u *User) Subject() *authz.User {
	return &authz.User{ID: u.ID, Username: u.Email, Role: u.Role}
}
