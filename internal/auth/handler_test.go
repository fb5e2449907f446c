package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecoloimp/ecoloimp/internal/auth"
	"github.com/ecoloimp/ecoloimp/internal/shared"
	"github.com/ecoloimp/ecoloimp/internal/view"
	_ "github.com/ecoloimp/ecoloimp/testing"
)

type stubRepo struct {
	user     *auth.User
	sessions map[string]int64
	touched  bool
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	if s.user == nil || s.user.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	s.touched = true
	return nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	if s.sessions == nil {
		s.sessions = map[string]int64{}
	}
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	delete(s.sessions, id)
	return nil
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return string(h)
}

func newAuthHandler(t *testing.T, repo auth.Repository) (*auth.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessionManager := shared.NewSessionManager(redisClient, "test_session", time.Hour, false)
	csrfManager := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	handler := auth.NewHandler(discardLogger(), auth.NewService(repo), auth.NewTokenManager("jwtsecret", time.Hour), templates, sessionManager, csrfManager)
	return handler, sessionManager
}

func withSession(t *testing.T, sm *shared.SessionManager, req *http.Request) (*http.Request, *shared.Session) {
	t.Helper()
	sess, err := sm.Load(context.Background(), req)
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	return req.WithContext(shared.ContextWithSession(req.Context(), sess)), sess
}

func postLogin(email, password, next string) *http.Request {
	form := url.Values{}
	form.Set("email", email)
	form.Set("password", password)
	form.Set("next", next)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestLoginPage(t *testing.T) {
	handler, sessionManager := newAuthHandler(t, &stubRepo{})

	req, sess := withSession(t, sessionManager, httptest.NewRequest(http.MethodGet, "/auth/login?next=/orders", nil))
	res := httptest.NewRecorder()
	handler.ShowLoginForTest(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "<form") {
		t.Fatalf("expected login form in body")
	}
	if !strings.Contains(res.Body.String(), `value="/orders"`) {
		t.Fatalf("expected next path to be carried in the form")
	}
	if sess.Get(shared.CSRFSessionKey) == "" {
		t.Fatalf("csrf token not set")
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "tecnico@ecoloimp.test", PasswordHash: hashed(t, "correctpass"), Role: "tecnico", IsActive: true}}
	handler, sessionManager := newAuthHandler(t, repo)

	req, sess := withSession(t, sessionManager, postLogin("tecnico@ecoloimp.test", "wrongpass", ""))
	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "Correo o contraseña incorrectos.") {
		t.Fatalf("expected error message in response")
	}
	if sess.User() != "" {
		t.Fatalf("session must stay anonymous")
	}
	if repo.touched {
		t.Fatalf("last login must not change on failure")
	}
}

func TestLoginInactiveUser(t *testing.T) {
	repo := &stubRepo{user: &auth.User{ID: 1, Email: "baja@ecoloimp.test", PasswordHash: hashed(t, "correctpass"), Role: "tecnico", IsActive: false}}
	handler, sessionManager := newAuthHandler(t, repo)

	req, _ := withSession(t, sessionManager, postLogin("baja@ecoloimp.test", "correctpass", ""))
	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "desactivada") {
		t.Fatalf("expected inactive account message")
	}
}

func TestLoginSuccessRenewsSessionAndRedirects(t *testing.T) {
	repo := &stubRepo{user: &auth.User{ID: 9, Email: "admin@ecoloimp.test", PasswordHash: hashed(t, "correctpass"), Role: "admin", IsActive: true}}
	handler, sessionManager := newAuthHandler(t, repo)

	req, sess := withSession(t, sessionManager, postLogin("admin@ecoloimp.test", "correctpass", "/orders?estado=pendiente"))
	before := sess.ID
	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if res.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", res.Code)
	}
	if loc := res.Header().Get("Location"); loc != "/orders?estado=pendiente" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	if sess.User() != "9" {
		t.Fatalf("expected session user 9, got %q", sess.User())
	}
	if sess.ID == before {
		t.Fatalf("session id must change on login")
	}
	if repo.sessions[sess.ID] != 9 {
		t.Fatalf("session row not registered")
	}
	if !repo.touched {
		t.Fatalf("last login not recorded")
	}
}

func TestLoginRejectsOffsiteNext(t *testing.T) {
	repo := &stubRepo{user: &auth.User{ID: 9, Email: "admin@ecoloimp.test", PasswordHash: hashed(t, "correctpass"), Role: "admin", IsActive: true}}
	handler, sessionManager := newAuthHandler(t, repo)

	req, _ := withSession(t, sessionManager, postLogin("admin@ecoloimp.test", "correctpass", "//evil.example"))
	res := httptest.NewRecorder()
	handler.HandleLoginForTest(res, req)

	if loc := res.Header().Get("Location"); loc != "/" {
		t.Fatalf("expected redirect home, got %q", loc)
	}
}

func TestIssueToken(t *testing.T) {
	repo := &stubRepo{user: &auth.User{ID: 4, Email: "api@ecoloimp.test", PasswordHash: hashed(t, "correctpass"), Role: "admin", IsActive: true}}
	handler, _ := newAuthHandler(t, repo)
	router := newAPIRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"email":"api@ecoloimp.test","password":"correctpass"}`))
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil || body.Token == "" {
		t.Fatalf("expected token in body: %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(`{"email":"api@ecoloimp.test","password":"wrongpass"}`))
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}
