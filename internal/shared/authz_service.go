package shared

// Field service permissions: assignments, equipment and printer counters.
const (
	PermTechDashboard     = "ver_dashboard_tecnico"
	PermAssignmentsView   = "ver_asignaciones"
	PermAssignmentsManage = "gestionar_asignaciones"
	PermAssignmentEdit    = "editar_asignacion"
	PermEquipmentView     = "ver_equipos"
	PermEquipmentManage   = "gestionar_equipos"
	PermCountersView      = "ver_conteos"
	PermCountersViewOwn   = "ver_conteos_propios"
	PermCountersCreate    = "crear_conteos"
	PermCountersEdit      = "editar_conteos"
	PermCountersEditOwn   = "editar_conteos_propios"
	PermCountersDelete    = "eliminar_conteos"
	PermCountersExport    = "exportar_conteos"
)

// ServiceScopes lists the field service permissions.
func ServiceScopes() []string {
	return []string{
		PermTechDashboard,
		PermAssignmentsView,
		PermAssignmentsManage,
		PermAssignmentEdit,
		PermEquipmentView,
		PermEquipmentManage,
		PermCountersView,
		PermCountersViewOwn,
		PermCountersCreate,
		PermCountersEdit,
		PermCountersEditOwn,
		PermCountersDelete,
		PermCountersExport,
	}
}
