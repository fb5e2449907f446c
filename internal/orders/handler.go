package orders

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

	"github.com/ecoloimp/ecoloimp/internal/inventory"
	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/view"
)

const perPage = 25

// PartSource lists the parts offered on the request form.
type PartSource interface {
	ListParts(ctx context.Context, filter inventory.PartFilter) ([]inventory.Part, int, error)
}

// Handler wires HTTP endpoints for part orders.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	parts     PartSource
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Guard
	validator *validator.Validate
}

// NewHandler constructs the orders handler.
func NewHandler(logger *slog.Logger, service *Service, parts PartSource, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, parts: parts, templates: templates, csrf: csrf, guard: guard, validator: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermOrdersView))
		r.Get("/", h.list)
		r.Get("/{id}", h.show)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermPartsRequest))
		r.Get("/new", h.showForm)
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermOrdersApprove))
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/reject", h.reject)
	})
}

type requestForm struct {
	PartID       int64  `validate:"required,gt=0"`
	Qty          int    `validate:"required,gte=1,lte=1000"`
	Reason       string `validate:"required,max=2000"`
	Urgency      string `validate:"required,oneof=baja normal alta urgente"`
	AssignmentID int64  `validate:"gte=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromRequest(r)
	status := r.URL.Query().Get("estado")
	actor := shared.PrincipalFromContext(r.Context())
	items, total, err := h.service.List(r.Context(), actor, ListFilter{Status: status, Limit: perPage, Offset: (page - 1) * perPage})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"orders": items, "total": total})
		return
	}
	h.render(w, r, "pages/orders/list.html", map[string]any{
		"Orders":     items,
		"Status":     status,
		"Pagination": shared.NewPagination(page, perPage, total),
		"CanRequest": actor.Can(shared.PermPartsRequest),
		"CanDecide":  actor.Can(shared.PermOrdersApprove),
	}, http.StatusOK)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, ok := rbac.LoadAuthorized(h.guard, w, r, ViewRule, id, h.service.Loader())
	if !ok {
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, order)
		return
	}
	history, err := h.service.History(r.Context(), id)
	if err != nil {
		h.logger.Error("order history", slog.Int64("order_id", id), slog.Any("error", err))
	}
	actor := shared.PrincipalFromContext(r.Context())
	h.render(w, r, "pages/orders/show.html", map[string]any{
		"Order":     order,
		"History":   history,
		"CanDecide": order.Pending() && actor.Can(shared.PermOrdersApprove),
	}, http.StatusOK)
}

func (h *Handler) showForm(w http.ResponseWriter, r *http.Request) {
	form := requestForm{Qty: 1, Urgency: "normal"}
	if id, err := strconv.ParseInt(r.URL.Query().Get("pieza"), 10, 64); err == nil {
		form.PartID = id
	}
	if id, err := strconv.ParseInt(r.URL.Query().Get("asignacion"), 10, 64); err == nil {
		form.AssignmentID = id
	}
	h.renderForm(w, r, form, map[string]string{}, http.StatusOK)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	form := requestForm{
		Reason:  strings.TrimSpace(r.PostFormValue("reason")),
		Urgency: r.PostFormValue("urgency"),
	}
	form.PartID, _ = strconv.ParseInt(r.PostFormValue("part_id"), 10, 64)
	form.Qty, _ = strconv.Atoi(r.PostFormValue("qty"))
	form.AssignmentID, _ = strconv.ParseInt(r.PostFormValue("assignment_id"), 10, 64)
	if errs := h.validate(form); len(errs) > 0 {
		h.renderForm(w, r, form, errs, http.StatusBadRequest)
		return
	}
	in := RequestInput{PartID: form.PartID, Qty: form.Qty, Reason: form.Reason, Urgency: form.Urgency}
	if form.AssignmentID > 0 {
		in.AssignmentID = &form.AssignmentID
	}
	actor := shared.PrincipalFromContext(r.Context())
	order, err := h.service.Request(r.Context(), actor, in)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) || errors.Is(err, shared.ErrNotFound) {
			h.renderForm(w, r, form, map[string]string{"general": "Revisa la pieza y la cantidad solicitada."}, http.StatusUnprocessableEntity)
			return
		}
		h.fail(w, r, err)
		return
	}
	h.logger.Info("parts requested", slog.Int64("order_id", order.ID), slog.Int64("part_id", order.PartID), slog.Int64("actor_id", actor.ID))
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusCreated, order)
		return
	}
	h.redirectWithFlash(w, r, fmt.Sprintf("/orders/%d", order.ID), "success", "Pedido enviado. Recibirás una notificación cuando se resuelva.")
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	qty, _ := strconv.Atoi(strings.TrimSpace(r.PostFormValue("approved_qty")))
	h.decide(w, r, Decision{Approve: true, Qty: qty, Note: r.PostFormValue("note")})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	h.decide(w, r, Decision{Note: r.PostFormValue("note")})
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, d Decision) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	actor := shared.PrincipalFromContext(r.Context())
	order, err := h.service.Decide(r.Context(), actor, id, d)
	location := fmt.Sprintf("/orders/%d", id)
	if err != nil {
		msg, status := decisionError(err)
		if status == 0 {
			h.fail(w, r, err)
			return
		}
		h.logger.Info("order decision rejected", slog.Int64("order_id", id), slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		if httpx.WantsJSON(r) {
			httpx.Problem(w, status, http.StatusText(status), msg)
			return
		}
		h.redirectWithFlash(w, r, location, "danger", msg)
		return
	}
	h.logger.Info("order decided", slog.Int64("order_id", id), slog.String("status", order.Status), slog.Int64("actor_id", actor.ID))
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, order)
		return
	}
	msg := "Pedido rechazado."
	if order.Status == StatusAprobado {
		msg = fmt.Sprintf("Pedido aprobado: %d unidad(es) descontadas del stock.", order.ApprovedQty)
	}
	h.redirectWithFlash(w, r, location, "success", msg)
}

func decisionError(err error) (string, int) {
	switch {
	case errors.Is(err, inventory.ErrNegativeStock):
		return "No hay stock suficiente para la cantidad aprobada.", http.StatusUnprocessableEntity
	case errors.Is(err, ErrQuantityExceeded):
		return "La cantidad aprobada no puede superar la solicitada.", http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidInput), errors.Is(err, inventory.ErrInvalidQuantity):
		return "Indica una cantidad válida y, al rechazar, el motivo.", http.StatusUnprocessableEntity
	case errors.Is(err, shared.ErrInvalidTransition):
		return "El pedido ya fue resuelto.", http.StatusConflict
	case errors.Is(err, shared.ErrLockHeld):
		return "Otro administrador está resolviendo este pedido.", http.StatusConflict
	}
	return "", 0
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		if httpx.WantsJSON(r) {
			httpx.RespondError(w, httpx.ErrNotFound)
		} else {
			http.NotFound(w, r)
		}
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	status := httpx.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("orders request failed", slog.Any("error", err))
	}
	h.guard.ErrorPage(w, r, status)
}

func (h *Handler) validate(form requestForm) map[string]string {
	errs := map[string]string{}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Tag() {
				case "required", "gt":
					errs[fe.Field()] = "Campo obligatorio."
				case "gte", "lte", "max":
					errs[fe.Field()] = "Valor fuera de rango."
				default:
					errs[fe.Field()] = "Valor no válido."
				}
			}
		}
	}
	return errs
}

func (h *Handler) renderForm(w http.ResponseWriter, r *http.Request, form requestForm, errs map[string]string, status int) {
	if httpx.WantsJSON(r) && status >= http.StatusBadRequest {
		httpx.ValidationProblem(w, status, errs)
		return
	}
	parts, _, err := h.parts.ListParts(r.Context(), inventory.PartFilter{Limit: 500})
	if err != nil {
		h.logger.Error("list parts", slog.Any("error", err))
	}
	h.render(w, r, "pages/orders/form.html", map[string]any{
		"Form":      form,
		"Errors":    errs,
		"Parts":     parts,
		"Urgencies": Urgencies,
	}, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, "Pedidos de piezas", data)
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
