package authz

import (
	"context"
	"errors"
	"fmt"
)

// Loader fetches the object a rule protects. It returns an error matching
// ErrNotFound when nothing exists under id.
type Loader[T any] func(ctx context.Context, id int64) (T, error)

// Principal is a user bound to the catalog that is deciding, so predicates
// and templates can ask about ranks and grants without holding the catalog.
// The zero value is anonymous and holds nothing.
type Principal struct {
	*User
	catalog *Catalog
}

// Principal binds user to c.
func (c *Catalog) Principal(user *User) Principal {
	return Principal{User: user, catalog: c}
}

// Authenticated reports whether a user is bound.
func (p Principal) Authenticated() bool {
	return p.User != nil
}

// Can reports whether the principal's role holds permission.
func (p Principal) Can(permission string) bool {
	if p.User == nil || p.catalog == nil {
		return false
	}
	return p.catalog.HasPermission(p.Role, permission)
}

// AtLeast reports whether the principal ranks at or above role. Unknown
// roles on either side yield false.
func (p Principal) AtLeast(role string) bool {
	if p.User == nil || p.catalog == nil {
		return false
	}
	ok, err := p.catalog.RoleAtLeast(p.Role, role)
	return err == nil && ok
}

// ObjectRule describes how a single object may be acted upon.
type ObjectRule[T any] struct {
	// Resource and Action derive the base permission "{action}_{resource}".
	Resource string
	Action   string
	// Require overrides the derived base permission.
	Require Requirement
	// Predicate is an extra condition evaluated on the loaded object.
	Predicate func(p Principal, obj T) bool
	// ConcealDenials reports denials as ErrNotFound.
	ConcealDenials bool
}

// BasePermission returns the permission name derived from Action and Resource.
func (r ObjectRule[T]) BasePermission() string {
	return NormalizeName(r.Action + "_" + r.Resource)
}

func (r ObjectRule[T]) requirement() Requirement {
	if r.Require != nil {
		return r.Require
	}
	return HasPermission(r.BasePermission())
}

// Validate checks the rule's base requirement against c.
func (r ObjectRule[T]) Validate(c *Catalog) error {
	return c.Validate(r.requirement())
}

// AuthorizeObject loads the object under id and returns it when user may act
// on it. Checks run in order: authentication, existence, base permission,
// predicate. A missing object is reported as ErrNotFound regardless of
// whether the user would have been allowed. A rule naming a permission or
// role the catalog lacks fails with a configuration error before loading.
func AuthorizeObject[T any](ctx context.Context, c *Catalog, user *User, rule ObjectRule[T], id int64, load Loader[T]) (T, error) {
	var zero T
	if user == nil {
		return zero, ErrNotAuthenticated
	}
	if err := rule.Validate(c); err != nil {
		return zero, fmt.Errorf("%s rule: %w", resourceLabel(rule), err)
	}
	obj, err := load(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return zero, fmt.Errorf("%s %d: %w", resourceLabel(rule), id, ErrNotFound)
		}
		return zero, fmt.Errorf("load %s %d: %w", resourceLabel(rule), id, err)
	}
	decision := c.Authorize(user, rule.requirement())
	if !decision.Allowed() {
		if rule.ConcealDenials && errors.Is(decision.Err(), ErrPermissionDenied) {
			return zero, fmt.Errorf("%s %d: %w", resourceLabel(rule), id, ErrNotFound)
		}
		return zero, decision.Err()
	}
	if rule.Predicate != nil && !rule.Predicate(c.Principal(user), obj) {
		if rule.ConcealDenials {
			return zero, fmt.Errorf("%s %d: %w", resourceLabel(rule), id, ErrNotFound)
		}
		return zero, fmt.Errorf("%w: %s %d not allowed for user %d", ErrPermissionDenied, resourceLabel(rule), id, user.ID)
	}
	return obj, nil
}

func resourceLabel[T any](rule ObjectRule[T]) string {
	if rule.Resource == "" {
		return "object"
	}
	return rule.Resource
}
