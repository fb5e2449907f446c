package shared

// Role names, lowest to highest.
const (
	RoleUsuario    = "usuario"
	RoleTecnico    = "tecnico"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// System and user administration permissions.
const (
	PermAdminTodo         = "admin_todo"
	PermConfigureSystem   = "configurar_sistema"
	PermViewLogs          = "ver_logs"
	PermManagePermissions = "gestionar_permisos"

	PermUsersView   = "ver_usuarios"
	PermUsersManage = "gestionar_usuarios"
	PermRolesAssign = "asignar_roles"
)

// CoreScopes lists the system and user administration permissions.
func CoreScopes() []string {
	return []string{
		PermAdminTodo,
		PermConfigureSystem,
		PermViewLogs,
		PermManagePermissions,
		PermUsersView,
		PermUsersManage,
		PermRolesAssign,
	}
}
