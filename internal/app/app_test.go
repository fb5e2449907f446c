package app

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoloimp/ecoloimp/internal/shared"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SESSION_SECRET", "session-secret")
	t.Setenv("CSRF_SECRET", "csrf-secret")
	t.Setenv("JWT_SECRET", strings.Repeat("k", 32))
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		setSecrets(t)
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.AppAddr)
		assert.Equal(t, time.Hour, cfg.JWTTTL)
		assert.Equal(t, int32(10), cfg.PGMaxConns)
		assert.False(t, cfg.MigrationsOnStart)
		assert.False(t, cfg.IsProduction())
	})

	t.Run("short jwt secret", func(t *testing.T) {
		setSecrets(t)
		t.Setenv("JWT_SECRET", "short")
		_, err := LoadConfig()
		require.Error(t, err)
	})

	t.Run("env file", func(t *testing.T) {
		setSecrets(t)
		path := filepath.Join(t.TempDir(), "app.env")
		require.NoError(t, writeFile(path, "APP_ADDR=:9090\nMIGRATIONS_ON_START=true\n"))
		t.Setenv("ENV_FILE", path)
		t.Cleanup(func() {
			_ = os.Unsetenv("APP_ADDR")
			_ = os.Unsetenv("MIGRATIONS_ON_START")
		})
		cfg, err := LoadConfig()
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.AppAddr)
		assert.True(t, cfg.MigrationsOnStart)
	})
}

func newStack(t *testing.T) (http.Handler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:         &Config{AppEnv: "test"},
		SessionManager: sessions,
		CSRFManager:    csrf,
	}) {
		r.Use(mw)
	}
	r.Get("/form", func(w http.ResponseWriter, r *http.Request) {
		token, err := csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
		require.NoError(t, err)
		_, _ = w.Write([]byte(token))
	})
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }
	r.Post("/submit", ok)
	r.Post("/auth/token", ok)
	return r, mr
}

func TestCSRFMiddleware(t *testing.T) {
	handler, _ := newStack(t)

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/submit", nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("valid header token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/form", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		cookies := rec.Result().Cookies()
		require.NotEmpty(t, cookies)

		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set("X-CSRF-Token", rec.Body.String())
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("token endpoint exempt", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/token", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("bearer exempt", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/submit", nil)
		req.Header.Set("Authorization", "Bearer abc")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestSecureHeaders(t *testing.T) {
	handler, _ := newStack(t)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/form", nil))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestLoginRateLimit(t *testing.T) {
	limited := LoginRateLimit(&Config{LoginRateLimit: 2, LoginRateWin: time.Minute})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	post := func() int {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:4000"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusOK, post())
	assert.Equal(t, http.StatusTooManyRequests, post())

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func TestStaticMimeTypes(t *testing.T) {
	require.NoError(t, registerStaticTypes())
	for ext := range staticTypes {
		assert.NotEmpty(t, mime.TypeByExtension(ext), ext)
	}
	assert.True(t, strings.HasPrefix(mime.TypeByExtension(".css"), "text/css"))
}
