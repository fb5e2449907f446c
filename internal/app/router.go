package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ecoloimp/ecoloimp/internal/assignments"
	"github.com/ecoloimp/ecoloimp/internal/audit"
	"github.com/ecoloimp/ecoloimp/internal/auth"
	"github.com/ecoloimp/ecoloimp/internal/counters"
	"github.com/ecoloimp/ecoloimp/internal/inventory"
	"github.com/ecoloimp/ecoloimp/internal/observability"
	"github.com/ecoloimp/ecoloimp/internal/orders"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/reports"
	"github.com/ecoloimp/ecoloimp/internal/roles"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/users"
	"github.com/ecoloimp/ecoloimp/internal/view"
	"github.com/ecoloimp/ecoloimp/jobs"
	"github.com/ecoloimp/ecoloimp/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Guard          rbac.Guard
	Metrics        *observability.Metrics

	AuthHandler        *auth.Handler
	UsersHandler       *users.Handler
	RolesHandler       *roles.Handler
	PermissionsHandler *rbac.PermissionsHandler
	AssignmentsHandler *assignments.Handler
	CountersHandler    *counters.Handler
	InventoryHandler   *inventory.Handler
	OrdersHandler      *orders.Handler
	ReportsHandler     *reports.Handler
	AuditHandler       *audit.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with Ecoloimp defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)
	r.Use(params.Guard.Authenticate)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.With(params.Guard.RequireAuth()).Method(http.MethodGet, "/", dashboardHandler{
		logger:    params.Logger,
		templates: params.Templates,
		csrf:      params.CSRFManager,
	})

	r.Route("/auth", func(r chi.Router) {
		r.Use(LoginRateLimit(params.Config))
		params.AuthHandler.MountRoutes(r)
		params.AuthHandler.MountAPIRoutes(r)
	})
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.AssignmentsHandler != nil {
		r.Route("/assignments", params.AssignmentsHandler.MountRoutes)
	}
	if params.CountersHandler != nil {
		r.Route("/counters", params.CountersHandler.MountRoutes)
	}
	if params.InventoryHandler != nil {
		r.Route("/inventory", params.InventoryHandler.MountRoutes)
	}
	if params.OrdersHandler != nil {
		r.Route("/orders", params.OrdersHandler.MountRoutes)
	}
	if params.ReportsHandler != nil {
		r.Route("/reports", params.ReportsHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.Guard.RequireRole(shared.RoleSuperadmin))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
