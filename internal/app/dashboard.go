package app

import (
	"log/slog"
	"net/http"

	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/view"
)

// dashboardTile links to a section the viewer may open.
type dashboardTile struct {
	Title       string
	Description string
	URL         string
	Permission  string
}

var dashboardTiles = []dashboardTile{
	{"Asignaciones", "Trabajos asignados y su estado.", "/assignments", shared.PermAssignmentsView},
	{"Conteos", "Lecturas de contadores de equipos.", "/counters", shared.PermCountersViewOwn},
	{"Conteos", "Lecturas de contadores de equipos.", "/counters", shared.PermCountersView},
	{"Registrar conteo", "Nueva lectura de impresiones, escaneos y copias.", "/counters/new", shared.PermCountersCreate},
	{"Inventario", "Repuestos y existencias.", "/inventory", shared.PermInventoryView},
	{"Pedidos", "Solicitudes de repuestos.", "/orders", shared.PermOrdersView},
	{"Reportes", "Uso de equipos por periodo.", "/reports/counters", shared.PermReportsView},
	{"Usuarios", "Cuentas y roles.", "/users", shared.PermUsersView},
	{"Permisos", "Matriz de permisos por rol.", "/permissions", shared.PermManagePermissions},
	{"Actividad", "Registro de cambios del sistema.", "/audit", shared.PermViewLogs},
}

type dashboardHandler struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// tiles returns the sections the viewer may open, one per URL.
func (h dashboardHandler) tiles(r *http.Request) []dashboardTile {
	viewer := shared.PrincipalFromContext(r.Context())
	seen := make(map[string]bool)
	var out []dashboardTile
	for _, tile := range dashboardTiles {
		if seen[tile.URL] || !viewer.Can(tile.Permission) {
			continue
		}
		seen[tile.URL] = true
		out = append(out, tile)
	}
	return out
}

func (h dashboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data := view.NewTemplateData(r, h.csrf, "Inicio", map[string]any{"Tiles": h.tiles(r)})
	if err := h.templates.Render(w, http.StatusOK, "pages/dashboard.html", data); err != nil {
		h.logger.Error("render dashboard", slog.Any("error", err))
	}
}
