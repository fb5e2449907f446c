package users

import (
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
	"github.com/ecoloimp/ecoloimp/internal/view"
)

const perPage = 20

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Guard
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermUsersView))
		r.Get("/", h.listUsers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermUsersManage))
		r.Get("/new", h.showCreateUserForm)
		r.Post("/", h.createUser)
		r.Post("/{id}/active", h.setActive)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermRolesAssign))
		r.Post("/{id}/role", h.changeRole)
	})
}

type formErrors map[string]string

type createForm struct {
	Email    string `validate:"required,email,max=160"`
	Name     string `validate:"required,max=120"`
	Role     string `validate:"required"`
	Password string `validate:"required,min=8"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromRequest(r)
	filter := ListFilter{
		Role:   authz.NormalizeName(r.URL.Query().Get("role")),
		Search: r.URL.Query().Get("q"),
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}
	users, total, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"users": users, "total": total})
		return
	}
	principal := shared.PrincipalFromContext(r.Context())
	h.render(w, r, "pages/users/list.html", map[string]any{
		"Users":      users,
		"Filter":     filter,
		"Pagination": shared.NewPagination(page, perPage, total),
		"Roles":      h.grantableRoles(principal),
		"CanManage":  principal.Can(shared.PermUsersManage),
		"CanAssign":  principal.Can(shared.PermRolesAssign),
	}, http.StatusOK)
}

func (h *Handler) showCreateUserForm(w http.ResponseWriter, r *http.Request) {
	h.renderForm(w, r, createForm{Role: shared.RoleTecnico}, formErrors{}, http.StatusOK)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	form := createForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Name:     strings.TrimSpace(r.PostFormValue("name")),
		Role:     r.PostFormValue("role"),
		Password: r.PostFormValue("password"),
	}
	errs := h.validate(form)
	if len(errs) > 0 {
		form.Password = ""
		h.renderForm(w, r, form, errs, http.StatusBadRequest)
		return
	}
	actor := shared.PrincipalFromContext(r.Context())
	user, err := h.service.CreateUser(r.Context(), actor, CreateInput(form))
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrConflict):
			errs["Email"] = "Ya existe un usuario con ese correo."
		case errors.Is(err, ErrUnknownRole):
			errs["Role"] = "Rol no válido."
		case errors.Is(err, authz.ErrPermissionDenied):
			errs["Role"] = "No puedes asignar un rol superior al tuyo."
		default:
			h.logger.Error("create user", slog.Any("error", err))
			errs["general"] = "No se pudo crear el usuario."
		}
		form.Password = ""
		h.renderForm(w, r, form, errs, http.StatusBadRequest)
		return
	}
	h.logger.Info("user created", slog.Int64("user_id", user.ID), slog.Int64("actor_id", actor.ID), slog.String("role", user.Role))
	h.redirectWithFlash(w, r, "/users", "success", fmt.Sprintf("Usuario %s creado.", user.Email))
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	role := r.FormValue("role")
	actor := shared.PrincipalFromContext(r.Context())
	if err := h.service.ChangeRole(r.Context(), actor, id, role); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("user role changed", slog.Int64("user_id", id), slog.Int64("actor_id", actor.ID), slog.String("role", role))
	if httpx.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.redirectWithFlash(w, r, "/users", "success", "Rol actualizado.")
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.userID(w, r)
	if !ok {
		return
	}
	active, err := strconv.ParseBool(r.FormValue("active"))
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: active must be true or false", httpx.ErrValidation))
		return
	}
	actor := shared.PrincipalFromContext(r.Context())
	if err := h.service.SetActive(r.Context(), actor, id, active); err != nil {
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	msg := "Usuario desactivado."
	if active {
		msg = "Usuario activado."
	}
	h.redirectWithFlash(w, r, "/users", "success", msg)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, httpx.ErrNotFound)
		return 0, false
	}
	return id, true
}

// fail answers API callers with a problem document and browsers with a
// flash on the listing.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrSelfChange) || errors.Is(err, ErrUnknownRole) {
		err = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	status := httpx.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("users request failed", slog.Any("error", err))
	}
	if httpx.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	if r.Method == http.MethodGet {
		h.guard.ErrorPage(w, r, status)
		return
	}
	h.redirectWithFlash(w, r, "/users", "danger", failureMessage(err))
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, ErrSelfChange):
		return "No puedes modificar tu propia cuenta."
	case errors.Is(err, ErrUnknownRole):
		return "Rol no válido."
	case errors.Is(err, authz.ErrPermissionDenied):
		return "No tienes permiso para modificar a este usuario con ese rol."
	case errors.Is(err, shared.ErrNotFound):
		return "Usuario no encontrado."
	default:
		return "No se pudo completar la operación."
	}
}

func (h *Handler) grantableRoles(p authz.Principal) []authz.Role {
	var roles []authz.Role
	for _, role := range h.guard.Catalog().Roles() {
		if p.AtLeast(role.Name) {
			roles = append(roles, role)
		}
	}
	return roles
}

func (h *Handler) validate(form createForm) formErrors {
	errs := formErrors{}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Tag() {
				case "required":
					errs[fe.Field()] = "Campo obligatorio."
				case "email":
					errs[fe.Field()] = "Correo no válido."
				case "min":
					errs[fe.Field()] = "Debe tener al menos " + fe.Param() + " caracteres."
				case "max":
					errs[fe.Field()] = "Debe tener como máximo " + fe.Param() + " caracteres."
				default:
					errs[fe.Field()] = "Valor no válido."
				}
			}
		}
	}
	return errs
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, form createForm, errs formErrors, status int) {
	h.render(w, r, "pages/users/form.html", map[string]any{
		"Form":   form,
		"Errors": errs,
		"Roles":  h.grantableRoles(shared.PrincipalFromContext(r.Context())),
	}, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, "Usuarios", data)
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
