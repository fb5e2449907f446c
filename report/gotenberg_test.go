package report

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "true", r.FormValue("landscape"))
		assert.Equal(t, "0.4", r.FormValue("marginTop"))
		f, _, err := r.FormFile("files")
		require.NoError(t, err)
		html, _ := io.ReadAll(f)
		assert.Equal(t, "<h1>Conteos</h1>", string(html))
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	pdf, err := NewClient(srv.URL, time.Second).RenderHTML(context.Background(), []byte("<h1>Conteos</h1>"), PageOptions{Landscape: true, Margin: 0.4})
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(pdf))
}

func TestUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 0)
	require.ErrorIs(t, c.Ping(context.Background()), ErrUnavailable)
	_, err := c.RenderHTML(context.Background(), []byte("x"), PageOptions{})
	require.ErrorIs(t, err, ErrUnavailable)
}
