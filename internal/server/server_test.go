package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"LERS-backend/internal/platform/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Mode:    config.ModeRelease,
		Server:  config.ServerConfig{Addr: "127.0.0.1:0", AllowOrigins: []string{"http://localhost:3000"}},
		Auth:    config.AuthConfig{JWTSecret: "test-secret-0123456789"},
		Reports: config.ReportConfig{Timezone: "UTC", CacheSize: 4, CacheTTL: time.Second},
	}
}

func serve(h http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRouter_Health(t *testing.T) {
	r := NewRouter(testConfig(t), nil, nil, zap.NewNop())

	w := serve(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(r, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = serve(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_APIRequiresToken(t *testing.T) {
	r := NewRouter(testConfig(t), nil, nil, zap.NewNop())

	for _, path := range []string{"/api/v2/borrows/pending-returns", "/api/v2/deficiencies", "/api/v2/reports/dashboard"} {
		w := serve(r, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestRouter_SwaggerOnlyInDev(t *testing.T) {
	cfg := testConfig(t)
	w := serve(NewRouter(cfg, nil, nil, zap.NewNop()), http.MethodGet, "/swagger/doc.json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	cfg.Mode = config.ModeDev
	w = serve(NewRouter(cfg, nil, nil, zap.NewNop()), http.MethodGet, "/swagger/doc.json", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/borrows/bulk-approve")
}

func TestRequestID_KeepsShortIncomingID(t *testing.T) {
	r := NewRouter(testConfig(t), nil, nil, zap.NewNop())

	w := serve(r, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))

	long := make([]byte, requestIDMaxLen+1)
	for i := range long {
		long[i] = 'a'
	}
	w = serve(r, http.MethodGet, "/healthz", map[string]string{"X-Request-ID": string(long)})
	assert.NotEqual(t, string(long), w.Header().Get("X-Request-ID"))
}

func TestLogger_LevelByStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := NewRouter(testConfig(t), nil, nil, zap.New(core))

	serve(r, http.MethodGet, "/healthz", nil)
	serve(r, http.MethodGet, "/api/v2/deficiencies", nil)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)

	warns := logs.FilterMessage("client error").All()
	require.Len(t, warns, 1)
	assert.Equal(t, int64(http.StatusUnauthorized), warns[0].ContextMap()["status"])
}

func TestStaticFallback(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644))

	cfg := testConfig(t)
	cfg.Server.StaticDir = dir
	r := NewRouter(cfg, nil, nil, zap.NewNop())

	w := serve(r, http.MethodGet, "/app.js", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")

	w = serve(r, http.MethodGet, "/borrows/123", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "app")
	assert.Empty(t, w.Header().Get("Cache-Control"))

	w = serve(r, http.MethodGet, "/api/v2/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRun_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, http.NotFoundHandler(), zap.NewNop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
