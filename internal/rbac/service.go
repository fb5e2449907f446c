package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecoloimp/ecoloimp/internal/authz"
)

// ErrEmptyCatalog is returned when storage holds no roles.
var ErrEmptyCatalog = errors.New("rbac: catalog is empty, run the seed")

// Service loads and seeds the authorization catalog.
type Service struct {
	repo Repository
}

// NewService constructs a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// LoadCatalog reads the catalog tables and builds an immutable catalog.
// An invalid or empty catalog is a startup error.
func (s *Service) LoadCatalog(ctx context.Context) (*authz.Catalog, error) {
	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("rbac: read catalog: %w", err)
	}
	if len(snap.Roles) == 0 {
		return nil, ErrEmptyCatalog
	}
	return BuildCatalog(snap)
}

// BuildCatalog converts stored rows into a catalog.
func BuildCatalog(snap Snapshot) (*authz.Catalog, error) {
	byPermission := make(map[string][]string, len(snap.Permissions))
	for _, g := range snap.Grants {
		key := authz.NormalizeName(g.Permission)
		byPermission[key] = append(byPermission[key], g.Role)
	}
	def := authz.Definition{}
	for _, r := range snap.Roles {
		def.Roles = append(def.Roles, authz.Role{Name: r.Name, Level: r.Level, Description: r.Description})
	}
	for _, p := range snap.Permissions {
		def.Permissions = append(def.Permissions, authz.PermissionDef{
			Name:        p.Name,
			Domain:      p.Domain,
			Description: p.Description,
			Roles:       byPermission[authz.NormalizeName(p.Name)],
		})
	}
	catalog, err := authz.NewCatalog(def)
	if err != nil {
		return nil, fmt.Errorf("rbac: build catalog: %w", err)
	}
	return catalog, nil
}

// Seed writes def to storage. Roles and permissions are upserted by name
// and the grant table is replaced, so running it twice is a no-op.
func (s *Service) Seed(ctx context.Context, def authz.Definition) (SeedReport, error) {
	catalog, err := authz.NewCatalog(def)
	if err != nil {
		return SeedReport{}, err
	}
	var report SeedReport
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, r := range catalog.Roles() {
			if err := tx.UpsertRole(ctx, Role{Name: r.Name, Level: r.Level, Description: r.Description}); err != nil {
				return fmt.Errorf("upsert role %s: %w", r.Name, err)
			}
			report.Roles++
		}
		var grants []Grant
		for _, p := range catalog.Permissions() {
			if err := tx.UpsertPermission(ctx, Permission{Name: p.Name, Domain: p.Domain, Description: p.Description}); err != nil {
				return fmt.Errorf("upsert permission %s: %w", p.Name, err)
			}
			report.Permissions++
			for _, role := range catalog.RolesWith(p.Name) {
				grants = append(grants, Grant{Role: role, Permission: p.Name})
			}
		}
		report.Grants = len(grants)
		return tx.ReplaceGrants(ctx, grants)
	})
	return report, err
}
