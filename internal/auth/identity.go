package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ecoloimp/ecoloimp/internal/authz"
	"github.com/ecoloimp/ecoloimp/internal/shared"
)

// IdentityProvider resolves the request user from a bearer token or the
// session cookie. It fails closed: anything it cannot verify is anonymous.
type IdentityProvider struct {
	service *Service
	tokens  *TokenManager
	logger  *slog.Logger
}

// NewIdentityProvider constructs an IdentityProvider.
func NewIdentityProvider(service *Service, tokens *TokenManager, logger *slog.Logger) *IdentityProvider {
	return &IdentityProvider{service: service, tokens: tokens, logger: logger}
}

// CurrentUser implements rbac.Identity.
func (p *IdentityProvider) CurrentUser(r *http.Request) (*authz.User, error) {
	id, ok := p.userID(r)
	if !ok {
		return nil, nil
	}
	user, err := p.service.ActiveUser(r.Context(), id)
	if err != nil || user == nil {
		return nil, err
	}
	return user.Subject(), nil
}

func (p *IdentityProvider) userID(r *http.Request) (int64, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || p.tokens == nil {
			return 0, false
		}
		id, err := p.tokens.Parse(strings.TrimSpace(token))
		if err != nil {
			if p.logger != nil {
				p.logger.Debug("reject bearer token", slog.Any("error", err))
			}
			return 0, false
		}
		return id, true
	}
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("auth parse session user id", slog.String("value", raw))
		}
		return 0, false
	}
	return id, true
}
