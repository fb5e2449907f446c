package authz

import (
	"errors"
	"fmt"
)

// Decision is the outcome of an access check.
type Decision struct {
	allowed bool
	reason  string
	err     error
}

// Allowed reports whether access is granted.
func (d Decision) Allowed() bool { return d.allowed }

// Reason is a short machine-friendly explanation, suitable for logs.
func (d Decision) Reason() string { return d.reason }

// Err is nil when allowed. Otherwise it wraps ErrNotAuthenticated,
// ErrPermissionDenied or a configuration error.
func (d Decision) Err() error { return d.err }

// Outcome classifies the decision as allow, unauthenticated, deny or error.
func (d Decision) Outcome() string {
	switch {
	case d.allowed:
		return "allow"
	case errors.Is(d.err, ErrNotAuthenticated):
		return "unauthenticated"
	case errors.Is(d.err, ErrPermissionDenied):
		return "deny"
	default:
		return "error"
	}
}

func allow(reason string) Decision { return Decision{allowed: true, reason: reason} }

func deny(reason string) Decision {
	return Decision{reason: reason, err: fmt.Errorf("%w: %s", ErrPermissionDenied, reason)}
}

// Authorize evaluates req for user. A nil user is never allowed.
func (c *Catalog) Authorize(user *User, req Requirement) Decision {
	if user == nil {
		return Decision{reason: "not authenticated", err: ErrNotAuthenticated}
	}
	if req == nil {
		return Decision{reason: "no requirement", err: fmt.Errorf("%w: nil requirement", ErrInvalidCatalog)}
	}
	ok, err := req.evaluate(c, user)
	if err != nil {
		return Decision{reason: err.Error(), err: err}
	}
	if !ok {
		return deny(fmt.Sprintf("role %q does not satisfy %s", user.Role, req))
	}
	return allow(req.String())
}

// Check is Authorize reduced to an error.
func (c *Catalog) Check(user *User, req Requirement) error {
	return c.Authorize(user, req).Err()
}

// Authorize evaluates req for user against c.
func Authorize(c *Catalog, user *User, req Requirement) Decision {
	return c.Authorize(user, req)
}
