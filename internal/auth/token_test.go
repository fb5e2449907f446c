package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/ecoloimp/ecoloimp/internal/shared"
)

func TestTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, exp, err := m.Issue(42)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	id, err := m.Parse(token)
	require.NoError(t, err)
	require.Equal(t, int64(42), id)
}

func TestTokenRejectsForgedAndExpired(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	other := NewTokenManager("other", time.Hour)
	forged, _, err := other.Issue(42)
	require.NoError(t, err)
	_, err = m.Parse(forged)
	require.ErrorIs(t, err, ErrInvalidToken)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := m.Issue(42)
	require.NoError(t, err)
	m.now = time.Now
	_, err = m.Parse(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"uid": "42", "iss": tokenIssuer}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Parse(none)
	require.ErrorIs(t, err, ErrInvalidToken)
}

type memoryUsers map[int64]*User

func (m memoryUsers) FindByEmail(context.Context, string) (*User, error) { return nil, shared.ErrNotFound }
func (m memoryUsers) FindByID(_ context.Context, id int64) (*User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}
func (m memoryUsers) TouchLogin(context.Context, int64, time.Time) error { return nil }
func (m memoryUsers) CreateSession(context.Context, string, int64, time.Time, string, string) error {
	return nil
}
func (m memoryUsers) DeleteSession(context.Context, string) error { return nil }

func TestIdentityProvider(t *testing.T) {
	users := memoryUsers{
		1: {ID: 1, Email: "a@ecoloimp.test", Role: shared.RoleAdmin, IsActive: true},
		2: {ID: 2, Email: "b@ecoloimp.test", Role: shared.RoleTecnico, IsActive: false},
	}
	tokens := NewTokenManager("secret", time.Hour)
	p := NewIdentityProvider(NewService(users), tokens, nil)

	anon, err := p.CurrentUser(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Nil(t, anon)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := &shared.Session{ID: "x"}
	sess.SetUser("1")
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	user, err := p.CurrentUser(req)
	require.NoError(t, err)
	require.Equal(t, shared.RoleAdmin, user.Role)

	token, _, err := tokens.Issue(1)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	user, err = p.CurrentUser(req)
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)

	req.Header.Set("Authorization", "Bearer garbage")
	user, err = p.CurrentUser(req)
	require.NoError(t, err)
	require.Nil(t, user)

	inactive, _, err := tokens.Issue(2)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+inactive)
	user, err = p.CurrentUser(req)
	require.NoError(t, err)
	require.Nil(t, user, "deactivated accounts are anonymous")
}
