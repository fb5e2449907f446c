package rbac_test

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ecoloimp/ecoloimp/internal/rbac"
)

func newRouter(h *rbac.PermissionsHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/permissions", h.MountRoutes)
	return r
}
