package rbac

import (
	"net/http"

	"github.com/ecoloimp/ecoloimp/internal/authz"
)

// Identity resolves the authenticated user of a request. It returns
// (nil, nil) for anonymous requests and an error only when the lookup
// itself failed.
type Identity interface {
	CurrentUser(r *http.Request) (*authz.User, error)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(r *http.Request) (*authz.User, error)

// CurrentUser implements Identity.
func (f IdentityFunc) CurrentUser(r *http.Request) (*authz.User, error) { return f(r) }
