package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ecoloimp/ecoloimp/internal/shared"
)

type memoryRepo struct {
	snap Snapshot
}

type memoryTx struct {
	repo *memoryRepo
	next Snapshot
}

func (r *memoryRepo) Snapshot(context.Context) (Snapshot, error) { return r.snap, nil }

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, next: r.snap}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.snap = tx.next
	return nil
}

func (t *memoryTx) UpsertRole(_ context.Context, role Role) error {
	for i, existing := range t.next.Roles {
		if existing.Name == role.Name {
			t.next.Roles[i] = role
			return nil
		}
	}
	role.ID = int64(len(t.next.Roles) + 1)
	t.next.Roles = append(t.next.Roles, role)
	return nil
}

func (t *memoryTx) UpsertPermission(_ context.Context, perm Permission) error {
	for i, existing := range t.next.Permissions {
		if existing.Name == perm.Name {
			t.next.Permissions[i] = perm
			return nil
		}
	}
	perm.ID = int64(len(t.next.Permissions) + 1)
	t.next.Permissions = append(t.next.Permissions, perm)
	return nil
}

func (t *memoryTx) ReplaceGrants(_ context.Context, grants []Grant) error {
	t.next.Grants = append([]Grant(nil), grants...)
	return nil
}

func TestSeedThenLoadRoundTrip(t *testing.T) {
	repo := &memoryRepo{}
	svc := NewService(repo)
	ctx := context.Background()

	_, err := svc.LoadCatalog(ctx)
	require.ErrorIs(t, err, ErrEmptyCatalog)

	report, err := svc.Seed(ctx, DefaultDefinition())
	require.NoError(t, err)
	require.Equal(t, 4, report.Roles)

	again, err := svc.Seed(ctx, DefaultDefinition())
	require.NoError(t, err)
	require.Equal(t, report, again)
	require.Len(t, repo.snap.Roles, 4)

	catalog, err := svc.LoadCatalog(ctx)
	require.NoError(t, err)
	require.True(t, catalog.HasPermission(shared.RoleAdmin, shared.PermReportsView))
	require.False(t, catalog.HasPermission(shared.RoleTecnico, shared.PermReportsView))
	ok, err := catalog.RoleAtLeast(shared.RoleSuperadmin, shared.RoleTecnico)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBuildCatalogRejectsGrantToUnknownRole(t *testing.T) {
	_, err := BuildCatalog(Snapshot{
		Roles:       []Role{{Name: "admin", Level: 2}},
		Permissions: []Permission{{Name: "ver_usuarios", Domain: "usuarios"}},
		Grants:      []Grant{{Role: "gerencia", Permission: "ver_usuarios"}},
	})
	require.Error(t, err)
}
