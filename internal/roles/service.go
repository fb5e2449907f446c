package roles

import (
	"context"
	"fmt"
	"sort"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// CatalogSource yields the catalog currently in effect.
type CatalogSource interface {
	Current() *authz.Catalog
}

// UserCounter reports how many accounts hold each role.
type UserCounter interface {
	CountByRole(ctx context.Context) (map[string]int, error)
}

// Service handles role business logic.
type Service struct {
	catalogs CatalogSource
	users    UserCounter
}

// NewService builds Service instance. users may be nil.
func NewService(catalogs CatalogSource, users UserCounter) *Service {
	return &Service{catalogs: catalogs, users: users}
}

// ListRoles returns the hierarchy from the highest rank down.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	catalog := s.catalogs.Current()
	counts, err := s.counts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Role, 0, len(catalog.Roles()))
	for _, r := range catalog.Roles() {
		out = append(out, Role{
			Name:        r.Name,
			Level:       r.Level,
			Description: r.Description,
			Permissions: catalog.PermissionsOf(r.Name),
			Users:       counts[r.Name],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level > out[j].Level })
	return out, nil
}

// GetRole returns a single role.
func (s *Service) GetRole(ctx context.Context, name string) (Role, error) {
	roles, err := s.ListRoles(ctx)
	if err != nil {
		return Role{}, err
	}
	name = authz.NormalizeName(name)
	for _, r := range roles {
		if r.Name == name {
			return r, nil
		}
	}
	return Role{}, fmt.Errorf("role %q: %w", name, shared.ErrNotFound)
}

func (s *Service) counts(ctx context.Context) (map[string]int, error) {
	if s.users == nil {
		return map[string]int{}, nil
	}
	counts, err := s.users.CountByRole(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users by role: %w", err)
	}
	return counts, nil
}
