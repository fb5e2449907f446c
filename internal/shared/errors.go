package shared

import (
	"errors"

	"github.com/ecoloimp/ecoloimp/internal/authz"
)

var (
	// ErrNotFound indicates resource not found. It is the sentinel object
	// loaders report to authz.AuthorizeObject.
	ErrNotFound = authz.ErrNotFound
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInactiveUser is returned when a deactivated account tries to sign in.
	ErrInactiveUser = errors.New("user inactive")
	// ErrConflict indicates a write that lost against concurrent state.
	ErrConflict = errors.New("conflict")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
