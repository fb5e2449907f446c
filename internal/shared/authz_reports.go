package shared

// Reporting permissions.
const (
	PermReportsView     = "ver_reportes"
	PermReportsGenerate = "generar_reportes"
	PermDataExport      = "exportar_datos"
)

// ReportScopes lists the reporting permissions.
func ReportScopes() []string {
	return []string{PermReportsView, PermReportsGenerate, PermDataExport}
}
