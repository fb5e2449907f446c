package authz

import "errors"

var (
	// ErrNotAuthenticated is returned when no identity is attached to the request.
	ErrNotAuthenticated = errors.New("authz: not authenticated")
	// ErrUnknownRole is returned when a role name is missing from the catalog.
	ErrUnknownRole = errors.New("authz: unknown role")
	// ErrUnknownPermission is returned when a permission name is missing from the catalog.
	ErrUnknownPermission = errors.New("authz: unknown permission")
	// ErrPermissionDenied is returned when a well-formed check evaluates to deny.
	ErrPermissionDenied = errors.New("authz: permission denied")
	// ErrNotFound is returned when an object loader finds nothing.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCatalog is returned when a Definition cannot produce a Catalog.
	ErrInvalidCatalog = errors.New("authz: invalid catalog")
)

// IsConfigError reports whether err is a catalog or requirement misconfiguration
// rather than a regular denial.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrUnknownRole) || errors.Is(err, ErrUnknownPermission) || errors.Is(err, ErrInvalidCatalog)
}
