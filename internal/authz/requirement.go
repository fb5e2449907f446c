package authz

import (
	"fmt"
	"strings"
)

// User is the authenticated subject a decision is made for.
type User struct {
	ID       int64
	Username string
	Role     string
}

// Requirement is an access condition evaluated against a catalog.
type Requirement interface {
	fmt.Stringer
	evaluate(c *Catalog, u *User) (bool, error)
	validate(c *Catalog) error
}

// MinRole requires the user's role to rank at or above role.
func MinRole(role string) Requirement { return minRole{role: NormalizeName(role)} }

// HasPermission requires the user's role to hold name.
func HasPermission(name string) Requirement { return allOf{names: normalizeNames([]string{name})} }

// HasAnyPermission requires at least one of names. An empty list is never
// satisfied and fails Validate.
func HasAnyPermission(names ...string) Requirement { return anyOf{names: normalizeNames(names)} }

// HasAllPermissions requires every one of names. An empty list fails Validate.
func HasAllPermissions(names ...string) Requirement { return allOf{names: normalizeNames(names)} }

type minRole struct{ role string }

func (m minRole) String() string { return "role>=" + m.role }

func (m minRole) evaluate(c *Catalog, u *User) (bool, error) {
	if !c.hierarchy.Known(m.role) {
		return false, fmt.Errorf("requirement %s: %w: %q", m, ErrUnknownRole, m.role)
	}
	return c.RoleAtLeast(u.Role, m.role)
}

func (m minRole) validate(c *Catalog) error {
	if !c.hierarchy.Known(m.role) {
		return fmt.Errorf("requirement %s: %w: %q", m, ErrUnknownRole, m.role)
	}
	return nil
}

type anyOf struct{ names []string }

func (a anyOf) String() string { return "any(" + strings.Join(a.names, ",") + ")" }

func (a anyOf) evaluate(c *Catalog, u *User) (bool, error) {
	for _, n := range a.names {
		if c.HasPermission(u.Role, n) {
			return true, nil
		}
	}
	return false, nil
}

func (a anyOf) validate(c *Catalog) error { return validatePermissions(c, a, a.names) }

type allOf struct{ names []string }

func (a allOf) String() string {
	if len(a.names) == 1 {
		return a.names[0]
	}
	return "all(" + strings.Join(a.names, ",") + ")"
}

func (a allOf) evaluate(c *Catalog, u *User) (bool, error) {
	for _, n := range a.names {
		if !c.HasPermission(u.Role, n) {
			return false, nil
		}
	}
	return true, nil
}

func (a allOf) validate(c *Catalog) error { return validatePermissions(c, a, a.names) }

func validatePermissions(c *Catalog, req Requirement, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("requirement %s: %w: no permissions named", req, ErrInvalidCatalog)
	}
	for _, n := range names {
		if !c.knownPermission(n) {
			return fmt.Errorf("requirement %s: %w: %q", req, ErrUnknownPermission, n)
		}
	}
	return nil
}

// Validate checks that every role and permission named by reqs exists in the
// catalog. Call it once at wiring time.
func (c *Catalog) Validate(reqs ...Requirement) error {
	for _, r := range reqs {
		if r == nil {
			return fmt.Errorf("%w: nil requirement", ErrInvalidCatalog)
		}
		if err := r.validate(c); err != nil {
			return err
		}
	}
	return nil
}
