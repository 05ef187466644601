package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiranshivaraju/stylizer/internal/api"
	mw "github.com/kiranshivaraju/stylizer/internal/api/middleware"
	"github.com/kiranshivaraju/stylizer/internal/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub cache ---

type stubCache struct{ count int64 }

func (c *stubCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }
func (c *stubCache) Get(_ context.Context, _ string) ([]byte, bool, error)            { return nil, false, nil }
func (c *stubCache) Delete(_ context.Context, _ string) error                          { return nil }
func (c *stubCache) Ping(_ context.Context) error                                      { return nil }
func (c *stubCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	c.count++
	return c.count, nil
}

func named(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(name))
	}
}

func TestRouter_Routes(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		HealthHandler: named("health"),
		UploadHandler: named("upload"),
		StatusHandler: named("status"),
		DeleteHandler: named("delete"),
	})

	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/health", "health"},
		{http.MethodPost, "/api/images/upload", "upload"},
		{http.MethodGet, "/api/images/12", "status"},
		{http.MethodDelete, "/api/images/12", "delete"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Body.String())
		})
	}
}

func TestRouter_UnwiredHandlerIs501(t *testing.T) {
	router := api.NewRouter(api.Dependencies{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "NOT_IMPLEMENTED", body["code"])
}

func TestRouter_RateLimitOnlyOnUpload(t *testing.T) {
	router := api.NewRouter(api.Dependencies{
		RateLimit:     mw.NewRateLimit(&stubCache{}, 1),
		UploadHandler: named("upload"),
		StatusHandler: named("status"),
	})

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/images/upload", nil))
		assert.Equal(t, want, w.Code, "upload #%d", i+1)
	}

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/images/1", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRouter_ServesArtifacts(t *testing.T) {
	layout := artifact.NewLayout(t.TempDir())
	require.NoError(t, layout.EnsureDirs())
	require.NoError(t, os.WriteFile(filepath.Join(layout.OriginalDir(), "a.jpg"), []byte("original"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(layout.ProcessedDir(), "processed_1_a.jpg"), []byte("processed"), 0o644))

	router := api.NewRouter(api.Dependencies{Layout: layout})

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/uploads/original/a.jpg", http.StatusOK, "original"},
		{"/uploads/processed/processed_1_a.jpg", http.StatusOK, "processed"},
		{"/uploads/processed/missing.jpg", http.StatusNotFound, ""},
		{"/uploads/original/", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.status, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
