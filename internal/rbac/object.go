package rbac

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// LoadAuthorized runs an object rule for the user attached to r. On failure
// it writes the 401/403/404/500 response and returns false.
func LoadAuthorized[T any](g Guard, w http.ResponseWriter, r *http.Request, rule authz.ObjectRule[T], id int64, load authz.Loader[T]) (T, bool) {
	user := shared.UserFromContext(r.Context())
	obj, err := authz.AuthorizeObject(r.Context(), g.Store.Current(), user, rule, id, load)
	if err == nil {
		g.record("allow")
		return obj, true
	}
	switch {
	case errors.Is(err, authz.ErrNotAuthenticated):
		g.record("unauthenticated")
	case errors.Is(err, authz.ErrNotFound):
		g.record("not_found")
	case errors.Is(err, authz.ErrPermissionDenied):
		g.record("deny")
		g.logger().Info("rbac object denied", slog.Int64("user_id", user.ID), slog.String("resource", rule.Resource), slog.Int64("id", id), slog.Any("error", err))
	default:
		g.record("error")
		g.logger().Error("rbac object check", slog.String("resource", rule.Resource), slog.Int64("id", id), slog.Any("error", err))
	}
	g.fail(w, r, err)
	return obj, false
}
