package assignments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/users"
	"github.com/ecoloimp/ecoloimp/internal/view"
)

const perPage = 20

// TechnicianSource lists the technicians work can be assigned to.
type TechnicianSource interface {
	Technicians(ctx context.Context) ([]users.User, error)
}

// Handler wires HTTP endpoints for assignments.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	technicians TechnicianSource
	templates   *view.Engine
	csrf        *shared.CSRFManager
	guard       rbac.Guard
	validator   *validator.Validate
}

// NewHandler constructs the assignments handler.
func NewHandler(logger *slog.Logger, service *Service, technicians TechnicianSource, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{
		logger:      logger,
		service:     service,
		technicians: technicians,
		templates:   templates,
		csrf:        csrf,
		guard:       guard,
		validator:   validator.New(),
	}
}

// MountRoutes registers assignment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermAssignmentsView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermAssignmentsManage))
		r.Get("/new", h.showCreateForm)
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermAssignmentEdit))
		r.Get("/{id}/edit", h.showEditForm)
		r.Post("/{id}", h.update)
	})
}

type createForm struct {
	TechnicianID     int64  `validate:"required,gt=0"`
	Request          string `validate:"required,max=2000"`
	EstimatedMinutes int    `validate:"gte=0,lte=10080"`
}

type editForm struct {
	Status        string `validate:"omitempty,oneof=asignada en_progreso finalizada cancelada"`
	Observations  string `validate:"max=4000"`
	ActualMinutes int    `validate:"gte=0,lte=10080"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromRequest(r)
	actor := shared.PrincipalFromContext(r.Context())
	filter := ListFilter{Status: r.URL.Query().Get("status"), Limit: perPage, Offset: (page - 1) * perPage}
	if tech, err := strconv.ParseInt(r.URL.Query().Get("tecnico"), 10, 64); err == nil {
		filter.TechnicianID = tech
	}
	items, total, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.logger.Error("list assignments", slog.Any("error", err))
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"assignments": items, "total": total})
		return
	}
	h.render(w, r, "pages/assignments/list.html", map[string]any{
		"Assignments": items,
		"Statuses":    Statuses,
		"Filter":      filter,
		"Pagination":  shared.NewPagination(page, perPage, total),
		"CanManage":   actor.Can(shared.PermAssignmentsManage),
	}, http.StatusOK)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r, ViewRule)
	if !ok {
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, a)
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	h.render(w, r, "pages/assignments/show.html", map[string]any{
		"Assignment": a,
		"CanEdit":    principal.Can(shared.PermAssignmentEdit) && canEdit(principal, a),
	}, http.StatusOK)
}

func (h *Handler) showCreateForm(w http.ResponseWriter, r *http.Request) {
	h.renderCreateForm(w, r, createForm{}, map[string]string{}, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	techID, _ := strconv.ParseInt(r.PostFormValue("technician_id"), 10, 64)
	minutes, minutesOK := parseMinutes(r.PostFormValue("estimated_minutes"))
	form := createForm{TechnicianID: techID, Request: strings.TrimSpace(r.PostFormValue("request")), EstimatedMinutes: minutes}
	errs := h.validate(form)
	if !minutesOK {
		errs["EstimatedMinutes"] = "Introduce un número de minutos."
	}
	if len(errs) > 0 {
		h.renderCreateForm(w, r, form, errs, http.StatusBadRequest)
		return
	}
	actor := shared.PrincipalFromContext(r.Context())
	a, err := h.service.Create(r.Context(), actor, CreateInput(form))
	if err != nil {
		if errors.Is(err, ErrNotTechnician) {
			errs["TechnicianID"] = "Selecciona un técnico activo."
			h.renderCreateForm(w, r, form, errs, http.StatusBadRequest)
			return
		}
		h.fail(w, r, err)
		return
	}
	h.logger.Info("assignment created", slog.Int64("assignment_id", a.ID), slog.Int64("technician_id", a.TechnicianID), slog.Int64("actor_id", actor.ID))
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusCreated, a)
		return
	}
	h.redirectWithFlash(w, r, fmt.Sprintf("/assignments/%d", a.ID), "success", "Asignación creada.")
}

func (h *Handler) showEditForm(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r, EditRule)
	if !ok {
		return
	}
	form := editForm{Status: a.Status, Observations: a.Observations, ActualMinutes: a.ActualMinutes}
	h.renderEditForm(w, r, a, form, map[string]string{}, http.StatusOK)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r, EditRule)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	minutes, minutesOK := parseMinutes(r.PostFormValue("actual_minutes"))
	form := editForm{
		Status:        r.PostFormValue("status"),
		Observations:  r.PostFormValue("observations"),
		ActualMinutes: minutes,
	}
	errs := h.validate(form)
	if !minutesOK {
		errs["ActualMinutes"] = "Introduce un número de minutos."
	}
	if len(errs) > 0 {
		h.renderEditForm(w, r, a, form, errs, http.StatusBadRequest)
		return
	}
	actor := shared.PrincipalFromContext(r.Context())
	updated, err := h.service.Update(r.Context(), actor, a, UpdateInput(form))
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrInvalidTransition):
			h.renderEditForm(w, r, a, form, map[string]string{"Status": "Cambio de estado no permitido."}, http.StatusConflict)
		case errors.Is(err, shared.ErrConflict):
			h.renderEditForm(w, r, a, form, map[string]string{"general": "La asignación fue modificada por otra persona. Recarga la página."}, http.StatusConflict)
		default:
			h.fail(w, r, err)
		}
		return
	}
	h.logger.Info("assignment updated", slog.Int64("assignment_id", a.ID), slog.String("status", updated.Status), slog.Int64("actor_id", actor.ID))
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, updated)
		return
	}
	h.redirectWithFlash(w, r, fmt.Sprintf("/assignments/%d", a.ID), "success", "Asignación actualizada.")
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request, rule authz.ObjectRule[Assignment]) (Assignment, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, httpx.ErrNotFound)
		return Assignment{}, false
	}
	return rbac.LoadAuthorized(h.guard, w, r, rule, id, h.service.Loader())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrInvalidInput) {
		err = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if httpx.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	status := httpx.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("assignments request failed", slog.Any("error", err))
	}
	h.guard.ErrorPage(w, r, status)
}

// parseMinutes reads an optional minutes field. Blank means zero; anything
// else must be an integer.
func parseMinutes(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (h *Handler) validate(form any) map[string]string {
	errs := map[string]string{}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Tag() {
				case "required", "gt":
					errs[fe.Field()] = "Campo obligatorio."
				case "oneof":
					errs[fe.Field()] = "Estado no válido."
				default:
					errs[fe.Field()] = "Valor no válido."
				}
			}
		}
	}
	return errs
}

func (h *Handler) renderCreateForm(w http.ResponseWriter, r *http.Request, form createForm, errs map[string]string, status int) {
	if httpx.WantsJSON(r) {
		httpx.ValidationProblem(w, status, errs)
		return
	}
	techs, err := h.technicians.Technicians(r.Context())
	if err != nil {
		h.logger.Error("list technicians", slog.Any("error", err))
	}
	h.render(w, r, "pages/assignments/form.html", map[string]any{
		"Form":        form,
		"Errors":      errs,
		"Technicians": techs,
	}, status)
}

func (h *Handler) renderEditForm(w http.ResponseWriter, r *http.Request, a Assignment, form editForm, errs map[string]string, status int) {
	if httpx.WantsJSON(r) {
		httpx.ValidationProblem(w, status, errs)
		return
	}
	h.render(w, r, "pages/assignments/edit.html", map[string]any{
		"Assignment": a,
		"Form":       form,
		"Errors":     errs,
		"Statuses":   Statuses,
	}, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, "Asignaciones", data)
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
