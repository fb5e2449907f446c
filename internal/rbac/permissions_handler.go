package rbac

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/view"
)

// PermissionsHandler shows the catalog and triggers reloads.
type PermissionsHandler struct {
	logger    *slog.Logger
	store     *CatalogStore
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     Guard
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, store *CatalogStore, templates *view.Engine, csrf *shared.CSRFManager, guard Guard) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, store: store, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermManagePermissions))
		r.Get("/", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireRole(shared.RoleSuperadmin))
		r.Post("/reload", h.reload)
	})
}

// PermissionRow is one line of the role matrix.
type PermissionRow struct {
	Name        string
	Description string
	Granted     map[string]bool
}

// PermissionGroup collects the rows of one domain area.
type PermissionGroup struct {
	Domain string
	Rows   []PermissionRow
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	catalog := h.store.Current()
	groups := make(map[string]*PermissionGroup)
	for _, p := range catalog.Permissions() {
		g, ok := groups[p.Domain]
		if !ok {
			g = &PermissionGroup{Domain: p.Domain}
			groups[p.Domain] = g
		}
		granted := make(map[string]bool)
		for _, role := range catalog.RolesWith(p.Name) {
			granted[role] = true
		}
		g.Rows = append(g.Rows, PermissionRow{Name: p.Name, Description: p.Description, Granted: granted})
	}
	ordered := make([]PermissionGroup, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, *g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Domain < ordered[j].Domain })

	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"roles": catalog.Roles(), "groups": ordered})
		return
	}
	h.render(w, r, "pages/permissions/list.html", map[string]any{
		"Roles":      catalog.Roles(),
		"Groups":     ordered,
		"LastReload": h.store.LastReload(),
	}, http.StatusOK)
}

func (h *PermissionsHandler) reload(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.store.Reload(r.Context())
	if err != nil {
		h.logger.Error("reload catalog", slog.Any("error", err))
		h.respond(w, r, http.StatusInternalServerError, "No se pudo recargar el catálogo de permisos.", "danger")
		return
	}
	if err := h.store.Broadcast(r.Context()); err != nil {
		h.logger.Warn("broadcast catalog reload", slog.Any("error", err))
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"roles": len(catalog.Roles()), "permissions": len(catalog.Permissions())})
		return
	}
	h.respond(w, r, http.StatusSeeOther, "Catálogo de permisos recargado.", "success")
}

func (h *PermissionsHandler) respond(w http.ResponseWriter, r *http.Request, status int, message, kind string) {
	if httpx.WantsJSON(r) {
		httpx.Problem(w, status, http.StatusText(status), message)
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, "/permissions", http.StatusSeeOther)
}

func (h *PermissionsHandler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, "Permisos", data)
	if err := h.templates.Render(w, status, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}
