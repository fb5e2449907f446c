package reports

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/view"
)

// Handler serves report pages and exports.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Guard
}

// NewHandler constructs the reports handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermReportsView))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/reports/counters", http.StatusSeeOther)
		})
		r.Get("/counters", h.counters)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermDataExport))
		r.Get("/counters.pdf", h.countersPDF)
		r.Get("/engine", h.engine)
	})
}

func (h *Handler) counters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := h.service.ParseRange(q.Get("desde"), q.Get("hasta"))
	if err != nil {
		h.badRange(w, r, err)
		return
	}
	rep, err := h.service.Counters(r.Context(), rng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, rep)
		return
	}
	viewData := view.NewTemplateData(r, h.csrf, "Reporte de conteos", map[string]any{
		"Report":    rep,
		"CanExport": h.guard.Can(r, shared.PermDataExport),
	})
	if err := h.templates.Render(w, http.StatusOK, "pages/reports/counters.html", viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) countersPDF(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := h.service.ParseRange(q.Get("desde"), q.Get("hasta"))
	if err != nil {
		h.badRange(w, r, err)
		return
	}
	rep, err := h.service.Counters(r.Context(), rng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	pdf, err := h.service.PDF(r.Context(), rep)
	if err != nil {
		h.logger.Error("render counters pdf", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, http.StatusText(http.StatusBadGateway), "No se pudo generar el PDF.")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="conteos_%s_%s.pdf"`,
		rng.From.Format("20060102"), rng.To.Format("20060102")))
	_, _ = w.Write(pdf)
}

func (h *Handler) engine(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Warn("pdf engine ping failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "Motor de PDF no disponible.")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) badRange(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("invalid report range", slog.Any("error", err))
	if httpx.WantsJSON(r) {
		httpx.Problem(w, http.StatusBadRequest, http.StatusText(http.StatusBadRequest), "Rango de fechas no válido.")
		return
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: "danger", Message: "Rango de fechas no válido (máximo un año)."})
	}
	http.Redirect(w, r, "/reports/counters", http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("reports request failed", slog.Any("error", err))
	if httpx.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	h.guard.ErrorPage(w, r, httpx.StatusFor(err))
}
