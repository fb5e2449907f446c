package authz

import (
	"fmt"
	"sort"
)

// Role is a named rank. A higher Level carries more authority.
type Role struct {
	Name        string
	Level       int
	Description string
}

// Hierarchy orders roles by level. Level values are unique.
type Hierarchy struct {
	levels  map[string]int
	ordered []Role
}

func newHierarchy(roles []Role) (Hierarchy, error) {
	h := Hierarchy{levels: make(map[string]int, len(roles))}
	byLevel := make(map[int]string, len(roles))
	for _, r := range roles {
		name := NormalizeName(r.Name)
		if name == "" {
			return Hierarchy{}, fmt.Errorf("%w: empty role name", ErrInvalidCatalog)
		}
		if _, dup := h.levels[name]; dup {
			return Hierarchy{}, fmt.Errorf("%w: duplicate role %q", ErrInvalidCatalog, name)
		}
		if other, dup := byLevel[r.Level]; dup {
			return Hierarchy{}, fmt.Errorf("%w: roles %q and %q share level %d", ErrInvalidCatalog, other, name, r.Level)
		}
		h.levels[name] = r.Level
		byLevel[r.Level] = name
		h.ordered = append(h.ordered, Role{Name: name, Level: r.Level, Description: r.Description})
	}
	sort.Slice(h.ordered, func(i, j int) bool { return h.ordered[i].Level < h.ordered[j].Level })
	return h, nil
}

// Level returns the level of role.
func (h Hierarchy) Level(role string) (int, error) {
	lvl, ok := h.levels[NormalizeName(role)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	return lvl, nil
}

// Known reports whether role is part of the hierarchy.
func (h Hierarchy) Known(role string) bool {
	_, ok := h.levels[NormalizeName(role)]
	return ok
}

// RoleAtLeast reports whether actual ranks equal to or above required.
func (h Hierarchy) RoleAtLeast(actual, required string) (bool, error) {
	have, err := h.Level(actual)
	if err != nil {
		return false, err
	}
	want, err := h.Level(required)
	if err != nil {
		return false, err
	}
	return have >= want, nil
}

// Roles returns the roles ordered by ascending level.
func (h Hierarchy) Roles() []Role {
	out := make([]Role, len(h.ordered))
	copy(out, h.ordered)
	return out
}

// AtOrAbove lists the roles whose level is at least the level of min.
func (h Hierarchy) AtOrAbove(min string) ([]string, error) {
	want, err := h.Level(min)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, r := range h.ordered {
		if r.Level >= want {
			out = append(out, r.Name)
		}
	}
	return out, nil
}
