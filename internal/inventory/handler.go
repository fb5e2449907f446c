package inventory

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
	"github.com/ecoloimp/ecoloimp/internal/rbac"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/view"
)

const perPage = 50

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	guard     rbac.Guard
	validator *validator.Validate
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, guard rbac.Guard) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, guard: guard, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermInventoryView))
		r.Get("/", h.listParts)
		r.Get("/{id}", h.showPart)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequirePermission(shared.PermInventoryManage))
		r.Post("/{id}/adjust", h.adjust)
	})
}

type adjustmentForm struct {
	Qty  int    `validate:"ne=0,min=-100000,max=100000"`
	Type string `validate:"oneof=IN ADJUST"`
	Note string `validate:"required,max=500"`
}

func (h *Handler) listParts(w http.ResponseWriter, r *http.Request) {
	page := shared.PageFromRequest(r)
	q := r.URL.Query()
	filter := PartFilter{
		Search:       q.Get("q"),
		LowStockOnly: q.Get("low") == "1",
		Limit:        perPage,
		Offset:       (page - 1) * perPage,
	}
	parts, total, err := h.service.ListParts(r.Context(), filter)
	if err != nil {
		h.logger.Error("list parts", slog.Any("error", err))
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"parts": parts, "total": total})
		return
	}
	h.render(w, r, "pages/inventory/list.html", map[string]any{
		"Parts":      parts,
		"Filter":     filter,
		"Pagination": shared.NewPagination(page, perPage, total),
		"CanManage":  h.guard.Can(r, shared.PermInventoryManage),
	}, http.StatusOK)
}

func (h *Handler) showPart(w http.ResponseWriter, r *http.Request) {
	id, ok := h.partID(w, r)
	if !ok {
		return
	}
	part, err := h.service.GetPart(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	movements, err := h.service.Movements(r.Context(), id)
	if err != nil {
		h.logger.Error("list movements", slog.Int64("part_id", id), slog.Any("error", err))
		h.fail(w, r, err)
		return
	}
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, map[string]any{"part": part, "movements": movements})
		return
	}
	h.render(w, r, "pages/inventory/show.html", map[string]any{
		"Part":      part,
		"Movements": movements,
		"CanManage": h.guard.Can(r, shared.PermInventoryManage),
		"Errors":    map[string]string{},
	}, http.StatusOK)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	id, ok := h.partID(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		h.guard.ErrorPage(w, r, http.StatusBadRequest)
		return
	}
	qty, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue("qty")))
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: cantidad no válida", httpx.ErrValidation))
		return
	}
	form := adjustmentForm{Qty: qty, Type: r.PostFormValue("type"), Note: strings.TrimSpace(r.PostFormValue("note"))}
	if form.Type == "" {
		form.Type = string(MovementAdjust)
	}
	if err := h.validator.Struct(form); err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
		return
	}
	if form.Type == string(MovementIn) && form.Qty < 0 {
		h.fail(w, r, fmt.Errorf("%w: una entrada debe ser positiva", httpx.ErrValidation))
		return
	}
	actor := shared.UserFromContext(r.Context())
	mv, err := h.service.Adjust(r.Context(), MovementInput{
		PartID:    id,
		Type:      MovementType(form.Type),
		Qty:       form.Qty,
		RefModule: "inventory",
		Note:      form.Note,
		ActorID:   actor.ID,
	})
	if err != nil {
		if errors.Is(err, ErrNegativeStock) || errors.Is(err, ErrInvalidQuantity) {
			err = fmt.Errorf("%w: %v", httpx.ErrValidation, err)
		}
		h.fail(w, r, err)
		return
	}
	h.logger.Info("stock adjusted", slog.Int64("part_id", id), slog.Int("qty", form.Qty), slog.Int("balance", mv.Balance), slog.Int64("actor_id", actor.ID))
	if httpx.WantsJSON(r) {
		httpx.JSON(w, http.StatusOK, mv)
		return
	}
	h.redirectWithFlash(w, r, fmt.Sprintf("/inventory/%d", id), "success", fmt.Sprintf("Stock actualizado: %d unidades.", mv.Balance))
}

func (h *Handler) partID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.fail(w, r, httpx.ErrNotFound)
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
	if r.Method != http.MethodGet && status < http.StatusInternalServerError && status != http.StatusNotFound {
		msg := "No se pudo actualizar el stock."
		if errors.Is(err, ErrNegativeStock) {
			msg = "El stock no puede quedar en negativo."
		} else if errors.Is(err, httpx.ErrValidation) {
			msg = "Revisa la cantidad y la nota del ajuste."
		}
		h.redirectWithFlash(w, r, fmt.Sprintf("/inventory/%s", chi.URLParam(r, "id")), "danger", msg)
		return
	}
	h.guard.ErrorPage(w, r, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data map[string]any, status int) {
	viewData := view.NewTemplateData(r, h.csrf, "Inventario", data)
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
