package authz

import (
	"fmt"
	"sort"
)

// Permission is a named capability grouped under a domain area.
type Permission struct {
	Name        string
	Domain      string
	Description string
}

// PermissionDef declares a permission and the roles granted it.
// Roles lists explicit grants. From, when set, additionally grants the
// permission to every role whose level is at least the level of From.
type PermissionDef struct {
	Name        string
	Domain      string
	Description string
	Roles       []string
	From        string
}

// Definition is the raw input for a Catalog.
type Definition struct {
	Roles       []Role
	Permissions []PermissionDef
}

// Catalog is the immutable authorization model.
type Catalog struct {
	hierarchy   Hierarchy
	permissions map[string]Permission
	ordered     []Permission
	grants      map[string]map[string]struct{}
}

// NewCatalog validates def and precomputes the grant sets.
func NewCatalog(def Definition) (*Catalog, error) {
	h, err := newHierarchy(def.Roles)
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		hierarchy:   h,
		permissions: make(map[string]Permission, len(def.Permissions)),
		grants:      make(map[string]map[string]struct{}, len(def.Roles)),
	}
	for _, r := range h.ordered {
		c.grants[r.Name] = make(map[string]struct{})
	}
	for _, p := range def.Permissions {
		name := NormalizeName(p.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: empty permission name", ErrInvalidCatalog)
		}
		if _, dup := c.permissions[name]; dup {
			return nil, fmt.Errorf("%w: duplicate permission %q", ErrInvalidCatalog, name)
		}
		perm := Permission{Name: name, Domain: NormalizeName(p.Domain), Description: p.Description}
		c.permissions[name] = perm
		c.ordered = append(c.ordered, perm)

		roles := normalizeNames(p.Roles)
		if p.From != "" {
			above, err := h.AtOrAbove(p.From)
			if err != nil {
				return nil, fmt.Errorf("permission %q: %w", name, err)
			}
			roles = normalizeNames(append(roles, above...))
		}
		for _, role := range roles {
			set, ok := c.grants[role]
			if !ok {
				return nil, fmt.Errorf("permission %q: %w: %q", name, ErrUnknownRole, role)
			}
			set[name] = struct{}{}
		}
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		if c.ordered[i].Domain != c.ordered[j].Domain {
			return c.ordered[i].Domain < c.ordered[j].Domain
		}
		return c.ordered[i].Name < c.ordered[j].Name
	})
	return c, nil
}

// MustCatalog is NewCatalog that panics on error. Intended for tests and
// compiled-in defaults.
func MustCatalog(def Definition) *Catalog {
	c, err := NewCatalog(def)
	if err != nil {
		panic(err)
	}
	return c
}

// Hierarchy exposes the role ranking.
func (c *Catalog) Hierarchy() Hierarchy { return c.hierarchy }

// Roles returns the roles ordered by ascending level.
func (c *Catalog) Roles() []Role { return c.hierarchy.Roles() }

// RoleAtLeast reports whether actual ranks equal to or above required.
func (c *Catalog) RoleAtLeast(actual, required string) (bool, error) {
	return c.hierarchy.RoleAtLeast(actual, required)
}

// Permissions returns every permission ordered by domain then name.
func (c *Catalog) Permissions() []Permission {
	out := make([]Permission, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Permission looks up a permission by name.
func (c *Catalog) Permission(name string) (Permission, bool) {
	p, ok := c.permissions[NormalizeName(name)]
	return p, ok
}

// Domains groups the permission names by domain area.
func (c *Catalog) Domains() map[string][]string {
	out := make(map[string][]string)
	for _, p := range c.ordered {
		out[p.Domain] = append(out[p.Domain], p.Name)
	}
	return out
}

// PermissionsOf returns the sorted permission names granted to role.
// Unknown roles hold no permissions.
func (c *Catalog) PermissionsOf(role string) []string {
	set := c.grants[NormalizeName(role)]
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// HasPermission reports whether role is granted name. Unknown roles and
// unknown permissions yield false.
func (c *Catalog) HasPermission(role, name string) bool {
	set, ok := c.grants[NormalizeName(role)]
	if !ok {
		return false
	}
	_, ok = set[NormalizeName(name)]
	return ok
}

// RolesWith lists the roles granted name, ordered by level.
func (c *Catalog) RolesWith(name string) []string {
	name = NormalizeName(name)
	var out []string
	for _, r := range c.hierarchy.ordered {
		if _, ok := c.grants[r.Name][name]; ok {
			out = append(out, r.Name)
		}
	}
	return out
}

// Definition returns a Definition that rebuilds an equivalent catalog with
// every grant listed explicitly.
func (c *Catalog) Definition() Definition {
	def := Definition{Roles: c.Roles()}
	for _, p := range c.ordered {
		def.Permissions = append(def.Permissions, PermissionDef{
			Name:        p.Name,
			Domain:      p.Domain,
			Description: p.Description,
			Roles:       c.RolesWith(p.Name),
		})
	}
	return def
}

func (c *Catalog) knownPermission(name string) bool {
	_, ok := c.permissions[NormalizeName(name)]
	return ok
}
