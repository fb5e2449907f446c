package roles

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

type fixedCounts map[string]int

func (f fixedCounts) CountByRole(context.Context) (map[string]int, error) { return f, nil }

type failingCounts struct{}

func (failingCounts) CountByRole(context.Context) (map[string]int, error) {
	return nil, errors.New("db down")
}

func testStore(t *testing.T) *rbac.CatalogStore {
	t.Helper()
	catalog, err := authz.NewCatalog(rbac.DefaultDefinition())
	require.NoError(t, err)
	return rbac.NewCatalogStore(catalog, nil, nil, nil)
}

func TestListRolesOrdersByLevel(t *testing.T) {
	svc := NewService(testStore(t), fixedCounts{shared.RoleTecnico: 7})
	roles, err := svc.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 4)
	assert.Equal(t, shared.RoleSuperadmin, roles[0].Name)
	assert.Equal(t, shared.RoleUsuario, roles[3].Name)

	tecnico := roles[2]
	assert.Equal(t, shared.RoleTecnico, tecnico.Name)
	assert.Equal(t, 7, tecnico.Users)
	assert.Contains(t, tecnico.Permissions, shared.PermPartsRequest)
	assert.Zero(t, roles[3].PermissionCount())
}

func TestGetRole(t *testing.T) {
	svc := NewService(testStore(t), nil)
	role, err := svc.GetRole(context.Background(), "Admin")
	require.NoError(t, err)
	assert.Equal(t, 2, role.Level)

	_, err = svc.GetRole(context.Background(), "gerencia")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = NewService(testStore(t), failingCounts{}).ListRoles(context.Background())
	require.Error(t, err)
}

func TestRolesRoutes(t *testing.T) {
	store := testStore(t)
	serve := func(user *authz.User, target string) *httptest.ResponseRecorder {
		guard := rbac.Guard{
			Store:    store,
			Identity: rbac.IdentityFunc(func(*http.Request) (*authz.User, error) { return user, nil }),
			Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		}
		h := NewHandler(guard.Logger, NewService(store, nil), nil, nil, guard)
		r := chi.NewRouter()
		r.Route("/roles", h.MountRoutes)
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Accept", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(&authz.User{ID: 1, Role: shared.RoleAdmin}, "/roles/")
	require.Equal(t, http.StatusOK, rec.Code)
	var roles []Role
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	assert.Len(t, roles, 4)

	assert.Equal(t, http.StatusNotFound, serve(&authz.User{ID: 1, Role: shared.RoleAdmin}, "/roles/gerencia").Code)
	assert.Equal(t, http.StatusForbidden, serve(&authz.User{ID: 2, Role: shared.RoleTecnico}, "/roles/").Code)
}
