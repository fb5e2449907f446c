package rbac

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/platform/httpx"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// LoginPath is where anonymous browser requests are sent.
const LoginPath = "/auth/login"

// DecisionRecorder counts guard outcomes.
type DecisionRecorder interface {
	RecordDecision(outcome string)
}

// ErrorRenderer renders an HTML error page.
type ErrorRenderer interface {
	RenderError(w http.ResponseWriter, r *http.Request, status int, message string)
}

// Guard wires authorization checks in front of HTTP handlers.
type Guard struct {
	Store    *CatalogStore
	Identity Identity
	Logger   *slog.Logger
	Metrics  DecisionRecorder
	Pages    ErrorRenderer
}

// Authenticate resolves the identity, if any, and stores it in the request
// context without enforcing anything. Pages use it to show the current user.
func (g Guard) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := g.resolve(r)
		if err != nil {
			g.logger().Error("rbac resolve identity", slog.Any("error", err))
			g.fail(w, r, err)
			return
		}
		if user != nil {
			r = r.WithContext(shared.ContextWithPrincipal(r.Context(), g.Store.Current().Principal(user)))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth only requires an authenticated identity.
func (g Guard) RequireAuth() func(http.Handler) http.Handler {
	return g.wrap(nil)
}

// RequireRole requires a role at or above role.
func (g Guard) RequireRole(role string) func(http.Handler) http.Handler {
	return g.Require(authz.MinRole(role))
}

// RequirePermission requires a single permission.
func (g Guard) RequirePermission(name string) func(http.Handler) http.Handler {
	return g.Require(authz.HasPermission(name))
}

// RequireAny ensures the current user has at least one of the required permissions.
func (g Guard) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return g.Require(authz.HasAnyPermission(perms...))
}

// RequireAll ensures the current user has all required permissions.
func (g Guard) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return g.Require(authz.HasAllPermissions(perms...))
}

// Require guards with an arbitrary requirement. The requirement is checked
// against the current catalog here, at route wiring, and a requirement
// naming an unknown role or permission panics.
func (g Guard) Require(req authz.Requirement) func(http.Handler) http.Handler {
	if err := g.Store.Current().Validate(req); err != nil {
		panic(err)
	}
	return g.wrap(req)
}

// Can reports whether the user attached to r holds permission.
func (g Guard) Can(r *http.Request, permission string) bool {
	return shared.PrincipalFromContext(r.Context()).Can(permission)
}

// Catalog returns the catalog in effect.
func (g Guard) Catalog() *authz.Catalog {
	return g.Store.Current()
}

func (g Guard) wrap(req authz.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := g.resolve(r)
			if err != nil {
				g.logger().Error("rbac resolve identity", slog.Any("error", err))
				g.record("error")
				g.fail(w, r, err)
				return
			}
			if user == nil {
				g.record("unauthenticated")
				g.fail(w, r, authz.ErrNotAuthenticated)
				return
			}
			catalog := g.Store.Current()
			r = r.WithContext(shared.ContextWithPrincipal(r.Context(), catalog.Principal(user)))
			if req == nil {
				next.ServeHTTP(w, r)
				return
			}
			decision := catalog.Authorize(user, req)
			g.record(decision.Outcome())
			if decision.Allowed() {
				next.ServeHTTP(w, r)
				return
			}
			if authz.IsConfigError(decision.Err()) {
				g.logger().Error("rbac misconfigured requirement", slog.String("requirement", req.String()), slog.Any("error", decision.Err()))
			} else {
				g.logger().Info("rbac denied", slog.Int64("user_id", user.ID), slog.String("path", r.URL.Path), slog.String("reason", decision.Reason()))
			}
			g.fail(w, r, decision.Err())
		})
	}
}

func (g Guard) resolve(r *http.Request) (*authz.User, error) {
	if user := shared.UserFromContext(r.Context()); user != nil {
		return user, nil
	}
	if g.Identity == nil {
		return nil, nil
	}
	return g.Identity.CurrentUser(r)
}

// fail writes the response for a failed check: JSON problems for API and
// AJAX callers, a login redirect or error page for browsers.
func (g Guard) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusFor(err)
	if httpx.WantsJSON(r) {
		httpx.RespondError(w, err)
		return
	}
	switch status {
	case http.StatusUnauthorized:
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: "Inicia sesión para continuar."})
		}
		target := LoginPath
		if r.Method == http.MethodGet {
			target += "?next=" + url.QueryEscape(r.URL.RequestURI())
		}
		http.Redirect(w, r, target, http.StatusSeeOther)
	default:
		g.ErrorPage(w, r, status)
	}
}

var pageMessages = map[int]string{
	http.StatusBadRequest:          "La solicitud no es válida.",
	http.StatusForbidden:           "No tienes permiso para realizar esta acción.",
	http.StatusNotFound:            "El recurso solicitado no existe.",
	http.StatusConflict:            "El recurso fue modificado por otra persona. Recarga la página.",
	http.StatusUnprocessableEntity: "Los datos enviados no son válidos.",
	http.StatusTooManyRequests:     "Demasiadas solicitudes. Inténtalo más tarde.",
}

// ErrorPage renders the browser error page for status. Statuses without a
// dedicated message are shown as a 500.
func (g Guard) ErrorPage(w http.ResponseWriter, r *http.Request, status int) {
	message, ok := pageMessages[status]
	if !ok {
		status, message = http.StatusInternalServerError, "Ocurrió un error inesperado."
	}
	if g.Pages != nil {
		g.Pages.RenderError(w, r, status, message)
		return
	}
	http.Error(w, message, status)
}

func (g Guard) record(outcome string) {
	if g.Metrics != nil {
		g.Metrics.RecordDecision(outcome)
	}
}

func (g Guard) logger() *slog.Logger {
	if g.Logger == nil {
		return slog.Default()
	}
	return g.Logger
}
