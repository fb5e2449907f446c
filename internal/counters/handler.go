package counters

import (
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/view"
)

const (
	perPage    = 50
	dateLayout = "2006-01-02"
)

// Handler wires HTTP endpoints for counter readings.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Guard
	validator *validator.Validate
}

// NewHandler constructs the counters handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard, validator: validator.New()}
}

// MountRoutes registers counter routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermCountersView, shared.PermCountersViewOwn))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermCountersExport))
		r.Get("/export.csv", h.exportCSV)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermEquipmentView))
		r.Get("/equipment", h.listEquipment)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermCountersCreate, shared.PermEquipmentView))
		r.Get("/equipment/{id}/last", h.lastCounters)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermCountersCreate))
		r.Get("/new", h.showCreateForm)
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermCountersEdit, shared.PermCountersEditOwn))
		r.Get("/{id}/edit", h.showEditForm)
		r.Post("/{id}", h.update)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermCountersDelete))
		r.Post("/{id}/delete", h.delete)
	})
}

type readingForm struct {
	EquipmentID      int64  `validate:"required,gt=0"`
	CountedOn        string `validate:"omitempty,datetime=2006-01-02"`
	Prints           int64  `validate:"gte=0,lte=9999999"`
	Scans            int64  `validate:"gte=0,lte=9999999"`
	Copies           int64  `validate:"gte=0,lte=9999999"`
	State            string `validate:"required,oneof=operativo con_fallas fuera_de_servicio"`
	NeedsMaintenance bool
	Notes            string `validate:"max=2000"`
	IdempotencyKey   string `validate:"required"`
}

func parseReadingForm(r *http.Request) readingForm {
	num := func(name string) int64 {
		v, _ := strconv.ParseInt(strings.TrimSpace(r.PostFormValue(name)), 10, 64)
		return v
	}
	return readingForm{
		EquipmentID:      num("equipment_id"),
		CountedOn:        strings.TrimSpace(r.PostFormValue("counted_on")),
		Prints:           num("prints"),
		Scans:            num("scans"),
		Copies:           num("copies"),
		State:            r.PostFormValue("state"),
		NeedsMaintenance: r.PostFormValue("needs_maintenance") != "",
		Notes:            r.PostFormValue("notes"),
		IdempotencyKey:   r.PostFormValue("idempotency_key"),
	}
}

func (f readingForm) counters() Counters {
	return Counters{Prints: f.Prints, Scans: f.Scans, Copies: f.Copies}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromRequest(r)
	filter, errs := parseFilter(r)
	filter.Limit, filter.Offset = perPage, (page-1)*perPage
	actor := shared.PrincipalFromContext(r.Context())
	readings, total, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"readings": readings, "total": total})
		return
	}
	h.render(w, r, "pages/counters/list.html", map[string]any{
		"Readings":   readings,
		"Filter":     filter,
		"Errors":     errs,
		"Pagination": shared.NewPagination(page, perPage, total),
		"CanCreate":  actor.Can(shared.PermCountersCreate),
		"CanExport":  actor.Can(shared.PermCountersExport),
		"CanDelete":  actor.Can(shared.PermCountersDelete),
	}, http.StatusOK)
}

func parseFilter(r *http.Request) (ReadingFilter, map[string]string) {
	q := r.URL.Query()
	errs := map[string]string{}
	var filter ReadingFilter
	if v := q.Get("equipo"); v != "" {
		filter.EquipmentID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := q.Get("desde"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			errs["desde"] = "Fecha no válida."
		}
		filter.From = t
	}
	if v := q.Get("hasta"); v != "" {
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			errs["hasta"] = "Fecha no válida."
		}
		filter.To = t
	}
	return filter, errs
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	filter, _ := parseFilter(r)
	filter.Limit = 10000
	actor := shared.PrincipalFromContext(r.Context())
	readings, _, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="conteos.csv"`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"id", "fecha", "equipo", "tecnico", "impresiones", "escaneos", "copias", "dif_impresiones", "dif_escaneos", "dif_copias", "estado"})
	for _, rd := range readings {
		d := rd.Delta()
		_ = cw.Write([]string{
			strconv.FormatInt(rd.ID, 10),
			rd.CountedOn.Format(dateLayout),
			rd.EquipmentLabel,
			rd.TechnicianName,
			strconv.FormatInt(rd.Current.Prints, 10),
			strconv.FormatInt(rd.Current.Scans, 10),
			strconv.FormatInt(rd.Current.Copies, 10),
			strconv.FormatInt(d.Prints, 10),
			strconv.FormatInt(d.Scans, 10),
			strconv.FormatInt(d.Copies, 10),
			rd.State,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger.Warn("export counters csv", slog.Any("error", err))
	}
}

func (h *Handler) listEquipment(w http.ResponseWriter, r *http.Request) {
	equipment, err := h.service.Equipment(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, equipment)
		return
	}
	h.render(w, r, "pages/counters/equipment.html", map[string]any{"Equipment": equipment}, http.StatusOK)
}

type lastCountersResponse struct {
	EquipmentID int64      `json:"equipment_id"`
	Label       string     `json:"label"`
	Prints      int64      `json:"prints"`
	Scans       int64      `json:"scans"`
	Copies      int64      `json:"copies"`
	LastCountAt *time.Time `json:"last_count_at"`
}

func (h *Handler) lastCounters(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	eq, err := h.service.LastCounters(r.Context(), id)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("last counters", slog.Int64("equipment_id", id), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lastCountersResponse{
		EquipmentID: eq.ID,
		Label:       eq.Label(),
		Prints:      eq.Last.Prints,
		Scans:       eq.Last.Scans,
		Copies:      eq.Last.Copies,
		LastCountAt: eq.LastCountAt,
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.load(w, r, ViewRule)
	if !ok {
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, rd)
		return
	}
	p := shared.PrincipalFromContext(r.Context())
	h.render(w, r, "pages/counters/show.html", map[string]any{
		"Reading":   rd,
		"CanEdit":   p.Can(shared.PermCountersEdit) || (p.Can(shared.PermCountersEditOwn) && rd.TechnicianID == p.ID),
		"CanDelete": p.Can(shared.PermCountersDelete),
	}, http.StatusOK)
}

func (h *Handler) showCreateForm(w http.ResponseWriter, r *http.Request) {
	form := readingForm{
		CountedOn:      time.Now().Format(dateLayout),
		State:          StateOperativo,
		IdempotencyKey: uuid.NewString(),
	}
	if id, err := strconv.ParseInt(r.URL.Query().Get("equipo"), 10, 64); err == nil {
		form.EquipmentID = id
	}
	h.renderForm(w, r, "pages/counters/form.html", nil, form, map[string]string{}, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	form := parseReadingForm(r)
	if errs := h.validate(form); len(errs) > 0 {
		h.renderForm(w, r, "pages/counters/form.html", nil, form, errs, http.StatusBadRequest)
		return
	}
	var countedOn time.Time
	if form.CountedOn != "" {
		countedOn, _ = time.Parse(dateLayout, form.CountedOn)
	}
	actor := shared.PrincipalFromContext(r.Context())
	rd, err := h.service.Register(r.Context(), actor, RegisterInput{
		EquipmentID:      form.EquipmentID,
		CountedOn:        countedOn,
		Counters:         form.counters(),
		State:            form.State,
		NeedsMaintenance: form.NeedsMaintenance,
		Notes:            form.Notes,
		IdempotencyKey:   form.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			h.logger.Info("duplicate counter submission", slog.String("key", form.IdempotencyKey), slog.Int64("actor_id", actor.ID))
			if httpx.WantsJSON(r) {
				httpx.RespondError(w, err)
				return
			}
			h.redirectWithFlash(w, r, "/counters", "info", "Este conteo ya fue registrado.")
			return
		}
		if msg, ok := readingError(err); ok {
			form.IdempotencyKey = uuid.NewString()
			h.renderForm(w, r, "pages/counters/form.html", nil, form, map[string]string{"general": msg}, http.StatusUnprocessableEntity)
			return
		}
		h.fail(w, r, err)
		return
	}
	h.logger.Info("counter registered", slog.Int64("reading_id", rd.ID), slog.Int64("equipment_id", rd.EquipmentID), slog.Int64("actor_id", actor.ID))
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusCreated, rd)
		return
	}
	msg := "Conteo registrado."
	if rd.Unusual(time.Time{}) {
		msg = "Conteo registrado. La diferencia de impresiones es inusualmente alta, revisa la lectura."
	}
	h.redirectWithFlash(w, r, "/counters", "success", msg)
}

func (h *Handler) showEditForm(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.load(w, r, EditRule)
	if !ok {
		return
	}
	form := readingForm{
		EquipmentID:      rd.EquipmentID,
		CountedOn:        rd.CountedOn.Format(dateLayout),
		Prints:           rd.Current.Prints,
		Scans:            rd.Current.Scans,
		Copies:           rd.Current.Copies,
		State:            rd.State,
		NeedsMaintenance: rd.NeedsMaintenance,
		Notes:            rd.Notes,
		IdempotencyKey:   "-",
	}
	h.renderForm(w, r, "pages/counters/edit.html", &rd, form, map[string]string{}, http.StatusOK)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.load(w, r, EditRule)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	form := parseReadingForm(r)
	form.EquipmentID = rd.EquipmentID
	form.CountedOn = rd.CountedOn.Format(dateLayout)
	form.IdempotencyKey = "-"
	if errs := h.validate(form); len(errs) > 0 {
		h.renderForm(w, r, "pages/counters/edit.html", &rd, form, errs, http.StatusBadRequest)
		return
	}
	actor := shared.PrincipalFromContext(r.Context())
	updated, err := h.service.Update(r.Context(), actor, rd, UpdateInput{
		Counters:         form.counters(),
		State:            form.State,
		NeedsMaintenance: form.NeedsMaintenance,
		Notes:            form.Notes,
	})
	if err != nil {
		if msg, ok := readingError(err); ok {
			h.renderForm(w, r, "pages/counters/edit.html", &rd, form, map[string]string{"general": msg}, http.StatusUnprocessableEntity)
			return
		}
		h.fail(w, r, err)
		return
	}
	h.logger.Info("counter updated", slog.Int64("reading_id", rd.ID), slog.Int64("actor_id", actor.ID))
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, updated)
		return
	}
	h.redirectWithFlash(w, r, fmt.Sprintf("/counters/%d", rd.ID), "success", "Conteo actualizado.")
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	rd, ok := h.load(w, r, DeleteRule)
	if !ok {
		return
	}
	actor := shared.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), actor, rd); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("counter deleted", slog.Int64("reading_id", rd.ID), slog.Int64("actor_id", actor.ID))
	if httpx.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.redirectWithFlash(w, r, "/counters", "success", "Conteo eliminado.")
}

func readingError(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrCounterDecreased):
		return "Los contadores no pueden ser menores que la lectura anterior.", true
	case errors.Is(err, ErrCounterAhead):
		return "Los contadores no pueden superar la lectura siguiente.", true
	case errors.Is(err, ErrInvalidReading):
		return "Revisa los valores del conteo.", true
	case errors.Is(err, shared.ErrNotFound):
		return "El equipo no existe.", true
	}
	return "", false
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, rule authz.ObjectRule[Reading]) (Reading, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, httpx.ErrNotFound)
		return Reading{}, false
	}
	return rbac.LoadAuthorized(h.guard, w, r, rule, id, h.service.Loader())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	status := httpx.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("counters request failed", slog.Any("error", err))
	}
	h.guard.ErrorPage(w, r, status)
}

func (h *Handler) validate(form readingForm) map[string]string {
	errs := map[string]string{}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Tag() {
				case "required", "gt":
					errs[fe.Field()] = "Campo obligatorio."
				case "datetime":
					errs[fe.Field()] = "Fecha no válida."
				case "lte", "gte":
					errs[fe.Field()] = "Valor fuera de rango."
				default:
					errs[fe.Field()] = "Valor no válido."
				}
			}
		}
	}
	return errs
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, template string, rd *Reading, form readingForm, errs map[string]string, status int) {
	if httpx.WantsJSON(r) && status >= http.StatusBadRequest {
		httpx.ValidationProblem(w, status, errs)
		return
	}
	equipment, err := h.service.Equipment(r.Context())
	if err != nil {
		h.logger.Error("list equipment", slog.Any("error", err))
	}
	h.render(w, r, template, map[string]any{
		"Form":      form,
		"Errors":    errs,
		"Reading":   rd,
		"Equipment": equipment,
		"States":    States,
	}, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, "Conteos de impresiones", data)
	if err := h.templates.Render(w, status, template, viewData); err != nil {
		h.logger.Error("render template", slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
