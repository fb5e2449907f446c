package authz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoloimp/ecoloimp/internal/authz"
)

func fixture(t *testing.T) *authz.Catalog {
	t.Helper()
	c, err := authz.NewCatalog(authz.Definition{
		Roles: []authz.Role{
			{Name: "tecnico", Level: 1},
			{Name: "admin", Level: 2},
			{Name: "superadmin", Level: 3},
		},
		Permissions: []authz.PermissionDef{
			{Name: "aprobar_pedidos", Domain: "pedidos", Roles: []string{"admin", "superadmin"}},
			{Name: "solicitar_piezas", Domain: "pedidos", Roles: []string{"tecnico"}},
			{Name: "editar_asignacion", Domain: "asignaciones", Roles: []string{"tecnico", "admin", "superadmin"}},
			{Name: "ver_reportes", Domain: "reportes", From: "admin"},
			{Name: "gestionar_permisos", Domain: "sistema", Roles: []string{"superadmin"}},
		},
	})
	require.NoError(t, err)
	return c
}

func TestRoleAtLeastFollowsLevels(t *testing.T) {
	c := fixture(t)
	roles := c.Roles()
	require.Len(t, roles, 3)
	for _, r1 := range roles {
		for _, r2 := range roles {
			ok, err := c.RoleAtLeast(r1.Name, r2.Name)
			require.NoError(t, err)
			assert.Equal(t, r1.Level >= r2.Level, ok, "%s >= %s", r1.Name, r2.Name)
		}
		ok, err := c.RoleAtLeast(r1.Name, r1.Name)
		require.NoError(t, err)
		assert.True(t, ok, "reflexive for %s", r1.Name)
	}
}

func TestRoleAtLeastUnknownRole(t *testing.T) {
	c := fixture(t)

	_, err := c.RoleAtLeast("cliente", "admin")
	require.ErrorIs(t, err, authz.ErrUnknownRole)
	_, err = c.RoleAtLeast("admin", "root")
	require.ErrorIs(t, err, authz.ErrUnknownRole)
	assert.True(t, authz.IsConfigError(err))
}

func TestPermissionsOfIsExactlyAssigned(t *testing.T) {
	c := fixture(t)

	assert.Equal(t, []string{"editar_asignacion", "solicitar_piezas"}, c.PermissionsOf("tecnico"))
	assert.Equal(t, []string{"aprobar_pedidos", "editar_asignacion", "ver_reportes"}, c.PermissionsOf("admin"))
	assert.Equal(t, []string{"aprobar_pedidos", "editar_asignacion", "gestionar_permisos", "ver_reportes"}, c.PermissionsOf("superadmin"))
	assert.Empty(t, c.PermissionsOf("cliente"))
}

func TestGrantsAreFlat(t *testing.T) {
	c := fixture(t)

	// solicitar_piezas is granted to tecnico only; higher roles do not inherit it.
	assert.True(t, c.HasPermission("tecnico", "solicitar_piezas"))
	assert.False(t, c.HasPermission("admin", "solicitar_piezas"))
	assert.False(t, c.HasPermission("superadmin", "solicitar_piezas"))
}

func TestFromExpandsToHigherRoles(t *testing.T) {
	c := fixture(t)

	assert.Equal(t, []string{"admin", "superadmin"}, c.RolesWith("ver_reportes"))
	assert.False(t, c.HasPermission("tecnico", "ver_reportes"))
}

func TestHasPermissionUnknownNamesDeny(t *testing.T) {
	c := fixture(t)

	assert.False(t, c.HasPermission("admin", "borrar_todo"))
	assert.False(t, c.HasPermission("cliente", "aprobar_pedidos"))
}

func TestNamesAreNormalized(t *testing.T) {
	c, err := authz.NewCatalog(authz.Definition{
		Roles:       []authz.Role{{Name: " Técnico ", Level: 1}},
		Permissions: []authz.PermissionDef{{Name: "Ver_Asignaciones", Roles: []string{"TECNICO"}}},
	})
	require.NoError(t, err)

	assert.True(t, c.HasPermission("tecnico", "ver_asignaciones"))
	assert.True(t, c.HasPermission("técnico", " VER_ASIGNACIONES"))
	assert.Equal(t, "tecnico", authz.NormalizeName("Técnico"))
}

func TestNewCatalogRejectsInvalidDefinitions(t *testing.T) {
	cases := map[string]struct {
		def  authz.Definition
		want error
	}{
		"duplicate role": {
			def:  authz.Definition{Roles: []authz.Role{{Name: "admin", Level: 1}, {Name: "Admin", Level: 2}}},
			want: authz.ErrInvalidCatalog,
		},
		"shared level": {
			def:  authz.Definition{Roles: []authz.Role{{Name: "admin", Level: 2}, {Name: "tecnico", Level: 2}}},
			want: authz.ErrInvalidCatalog,
		},
		"duplicate permission": {
			def: authz.Definition{
				Roles:       []authz.Role{{Name: "admin", Level: 2}},
				Permissions: []authz.PermissionDef{{Name: "ver"}, {Name: "VER"}},
			},
			want: authz.ErrInvalidCatalog,
		},
		"grant to unknown role": {
			def: authz.Definition{
				Roles:       []authz.Role{{Name: "admin", Level: 2}},
				Permissions: []authz.PermissionDef{{Name: "ver", Roles: []string{"cliente"}}},
			},
			want: authz.ErrUnknownRole,
		},
		"from unknown role": {
			def: authz.Definition{
				Roles:       []authz.Role{{Name: "admin", Level: 2}},
				Permissions: []authz.PermissionDef{{Name: "ver", From: "root"}},
			},
			want: authz.ErrUnknownRole,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := authz.NewCatalog(tc.def)
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestDefinitionRoundTripKeepsGrants(t *testing.T) {
	c := fixture(t)
	rebuilt, err := authz.NewCatalog(c.Definition())
	require.NoError(t, err)

	for _, r := range c.Roles() {
		assert.Equal(t, c.PermissionsOf(r.Name), rebuilt.PermissionsOf(r.Name))
	}
	assert.Equal(t, []string{"aprobar_pedidos", "solicitar_piezas"}, c.Domains()["pedidos"])
}
