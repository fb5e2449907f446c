// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound     = authz.ErrNotFound
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = authz.ErrPermissionDenied
	ErrUnauthorized = authz.ErrNotAuthenticated
)

// StatusFor maps a domain error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, authz.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, authz.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, authz.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrDuplicate), errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrInvalidTransition),
		errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, shared.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Denials
// carry a generic detail; internal reasons stay in the logs.
func RespondError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusUnauthorized:
		Problem(w, status, "Unauthorized", "authentication required")
	case http.StatusForbidden:
		Problem(w, status, "Forbidden", "permission denied")
	case http.StatusNotFound:
		Problem(w, status, "Not Found", "resource not found")
	case http.StatusConflict, http.StatusBadRequest:
		Problem(w, status, http.StatusText(status), err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

// WantsJSON reports whether the caller is an API or AJAX client rather than
// a browser navigating pages.
func WantsJSON(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	if strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}
