package rbac

import (
	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

const (
	domainSystem      = "sistema"
	domainUsers       = "usuarios"
	domainAssignments = "asignaciones"
	domainEquipment   = "equipos"
	domainCounters    = "conteos"
	domainInventory   = "inventario"
	domainOrders      = "pedidos"
	domainReports     = "reportes"
)

var (
	superadminOnly = []string{shared.RoleSuperadmin}
	adminUp        = []string{shared.RoleAdmin, shared.RoleSuperadmin}
	staff          = []string{shared.RoleTecnico, shared.RoleAdmin, shared.RoleSuperadmin}
	tecnicoOnly    = []string{shared.RoleTecnico}
)

// DefaultDefinition is the catalog shipped with the application and
// written by the seed command. Grants are listed per role; report
// permissions expand from admin upwards.
func DefaultDefinition() authz.Definition {
	return authz.Definition{
		Roles: []authz.Role{
			{Name: shared.RoleUsuario, Level: 0, Description: "Usuario sin privilegios"},
			{Name: shared.RoleTecnico, Level: 1, Description: "Personal técnico que realiza visitas y mantenimientos"},
			{Name: shared.RoleAdmin, Level: 2, Description: "Administración del servicio técnico"},
			{Name: shared.RoleSuperadmin, Level: 3, Description: "Acceso total al sistema"},
		},
		Permissions: []authz.PermissionDef{
			{Name: shared.PermAdminTodo, Domain: domainSystem, Description: "Acceso total al sistema", Roles: superadminOnly},
			{Name: shared.PermConfigureSystem, Domain: domainSystem, Description: "Configuración general del sistema", Roles: adminUp},
			{Name: shared.PermViewLogs, Domain: domainSystem, Description: "Ver registros del sistema", Roles: adminUp},
			{Name: shared.PermManagePermissions, Domain: domainSystem, Description: "Administrar permisos y roles", Roles: superadminOnly},

			{Name: shared.PermUsersView, Domain: domainUsers, Description: "Ver lista de usuarios", Roles: adminUp},
			{Name: shared.PermUsersManage, Domain: domainUsers, Description: "Crear, editar y desactivar usuarios", Roles: adminUp},
			{Name: shared.PermRolesAssign, Domain: domainUsers, Description: "Asignar roles a usuarios", Roles: adminUp},

			{Name: shared.PermTechDashboard, Domain: domainAssignments, Description: "Ver el panel del técnico", Roles: []string{shared.RoleTecnico, shared.RoleAdmin}},
			{Name: shared.PermAssignmentsView, Domain: domainAssignments, Description: "Ver asignaciones", Roles: staff},
			{Name: shared.PermAssignmentsManage, Domain: domainAssignments, Description: "Crear, cancelar y reabrir asignaciones", Roles: adminUp},
			{Name: shared.PermAssignmentEdit, Domain: domainAssignments, Description: "Editar asignaciones", Roles: staff},

			{Name: shared.PermEquipmentView, Domain: domainEquipment, Description: "Ver lista de equipos", Roles: staff},
			{Name: shared.PermEquipmentManage, Domain: domainEquipment, Description: "Gestionar todos los equipos", Roles: adminUp},

			{Name: shared.PermCountersView, Domain: domainCounters, Description: "Ver todos los conteos de impresiones", Roles: adminUp},
			{Name: shared.PermCountersViewOwn, Domain: domainCounters, Description: "Ver solo conteos propios", Roles: tecnicoOnly},
			{Name: shared.PermCountersCreate, Domain: domainCounters, Description: "Registrar nuevos conteos de impresiones", Roles: []string{shared.RoleTecnico, shared.RoleAdmin}},
			{Name: shared.PermCountersEdit, Domain: domainCounters, Description: "Editar cualquier conteo de impresiones", Roles: adminUp},
			{Name: shared.PermCountersEditOwn, Domain: domainCounters, Description: "Editar solo conteos propios", Roles: tecnicoOnly},
			{Name: shared.PermCountersDelete, Domain: domainCounters, Description: "Eliminar conteos de impresiones", Roles: superadminOnly},
			{Name: shared.PermCountersExport, Domain: domainCounters, Description: "Exportar datos de conteos", Roles: adminUp},

			{Name: shared.PermInventoryView, Domain: domainInventory, Description: "Ver el inventario", Roles: staff},
			{Name: shared.PermInventoryManage, Domain: domainInventory, Description: "Gestionar el inventario completo", Roles: adminUp},

			{Name: shared.PermOrdersView, Domain: domainOrders, Description: "Ver pedidos de piezas", Roles: staff},
			{Name: shared.PermPartsRequest, Domain: domainOrders, Description: "Solicitar piezas", Roles: tecnicoOnly},
			{Name: shared.PermOrdersApprove, Domain: domainOrders, Description: "Aprobar o rechazar pedidos de piezas", Roles: adminUp},

			{Name: shared.PermReportsView, Domain: domainReports, Description: "Acceder a los reportes del sistema", From: shared.RoleAdmin},
			{Name: shared.PermReportsGenerate, Domain: domainReports, Description: "Generar reportes personalizados", From: shared.RoleAdmin},
			{Name: shared.PermDataExport, Domain: domainReports, Description: "Exportar datos a diferentes formatos", From: shared.RoleAdmin},
		},
	}
}
