package audit

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/view"
)

const (
	exportRateLimit  = 10
	exportRateWindow = time.Minute
	dateLayout       = "2006-01-02"
)

// Handler serves the activity log.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Guard
}

// NewHandler constructs the activity log handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard}
}

// MountRoutes registers the timeline and CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(exportRateLimit, exportRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Demasiadas exportaciones, espera un minuto.", http.StatusTooManyRequests)
		}),
	)
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermViewLogs))
		r.Get("/", h.timeline)
		r.With(limiter).Get("/export.csv", h.export)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if p := shared.PrincipalFromContext(r.Context()); p.Authenticated() {
		return "user:" + strconv.FormatInt(p.ID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}

// parseFilters reads desde/hasta as inclusive days; hasta becomes the
// exclusive start of the following day.
func parseFilters(r *http.Request) (TimelineFilters, map[string]string) {
	q := r.URL.Query()
	errs := map[string]string{}
	f := TimelineFilters{
		Entity: strings.TrimSpace(q.Get("entidad")),
		Action: strings.TrimSpace(q.Get("accion")),
	}
	if v := q.Get("desde"); v != "" {
		t, err := time.ParseInLocation(dateLayout, v, time.Local)
		if err != nil {
			errs["desde"] = "Fecha no válida."
		}
		f.From = t
	}
	if v := q.Get("hasta"); v != "" {
		t, err := time.ParseInLocation(dateLayout, v, time.Local)
		if err != nil {
			errs["hasta"] = "Fecha no válida."
		} else {
			f.To = t.AddDate(0, 0, 1)
		}
	}
	if v := q.Get("usuario"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			errs["usuario"] = "Usuario no válido."
		}
		f.ActorID = id
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PageSize, _ = strconv.Atoi(q.Get("size"))
	return f, errs
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, errs := parseFilters(r)
	var result Result
	if len(errs) == 0 {
		var err error
		result, err = h.service.Timeline(r.Context(), filters)
		if errors.Is(err, ErrInvalidFilter) {
			errs["general"] = strings.TrimPrefix(err.Error(), ErrInvalidFilter.Error()+": ")
		} else if err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if httpx.WantsJSON(r) {
		if len(errs) > 0 {
			httpx.ValidationProblem(w, http.StatusBadRequest, errs)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"rows": result.Rows, "paging": result.Paging})
		return
	}
	status := http.StatusOK
	if len(errs) > 0 {
		status = http.StatusBadRequest
	}
	viewData := view.NewTemplateData(r, h.csrf, "Registro de actividad", map[string]any{
		"Rows":    result.Rows,
		"Paging":  result.Paging,
		"Query":   r.URL.Query(),
		"Errors":  errs,
		"PrevURL": pageURL(r, result.Paging.PrevPage),
		"NextURL": pageURL(r, result.Paging.NextPage),
	})
	if err := h.templates.Render(w, status, "pages/audit/list.html", viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

// pageURL keeps the current filters; page 0 means no link.
func pageURL(r *http.Request, page int) string {
	if page <= 0 {
		return ""
	}
	q := r.URL.Query()
	q.Set("page", strconv.Itoa(page))
	return "?" + q.Encode()
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, errs := parseFilters(r)
	if len(errs) > 0 {
		http.Error(w, "Filtros no válidos.", http.StatusBadRequest)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if errors.Is(err, ErrInvalidFilter) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="actividad.csv"`)
	if err := writeCSV(w, rows); err != nil {
		h.logger.Warn("export audit csv", slog.Any("error", err))
	}
}

func writeCSV(w http.ResponseWriter, rows []TimelineRow) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"fecha", "usuario_id", "usuario", "accion", "entidad", "entidad_id", "detalle"})
	for _, row := range rows {
		meta := ""
		if len(row.Meta) > 0 {
			raw, err := json.Marshal(row.Meta)
			if err != nil {
				return err
			}
			meta = string(raw)
		}
		_ = cw.Write([]string{
			row.At.Format(time.RFC3339),
			strconv.FormatInt(row.ActorID, 10),
			row.ActorName,
			row.Action,
			row.Entity,
			strconv.FormatInt(row.EntityID, 10),
			meta,
		})
	}
	cw.Flush()
	return cw.Error()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("audit request failed", slog.Any("error", err))
	if httpx.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	status := httpx.StatusFor(err)
	h.guard.ErrorPage(w, r, status)
}
