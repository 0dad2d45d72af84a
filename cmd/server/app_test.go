package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okuzmin/vectorize-api/internal/api"
	"github.com/okuzmin/vectorize-api/internal/config"
	"github.com/okuzmin/vectorize-api/internal/platform/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: 8080, LogLevel: "error", ShutdownTimeoutSeconds: 1},
		Auth: config.AuthConfig{
			DefaultTier:          "free",
			TokenLifetimeMinutes: 60,
		},
		Cache:       config.CacheConfig{TTLSeconds: 60, SweepSeconds: 60},
		Idempotency: config.IdempotencyConfig{TTLSeconds: 60, SweepSeconds: 60},
		Pool:        config.PoolConfig{Min: 0, Max: 2, IdleTimeoutSeconds: 60, AcquireTimeoutSeconds: 5},
		Monitor:     config.MonitorConfig{Enabled: false, MaxConcurrent: 16, SampleSeconds: 5},
		Storage:     config.StorageConfig{Backend: "local", LocalDir: t.TempDir()},
	}
}

func newTestApp(t *testing.T) *application {
	t.Helper()

	cfg := testConfig(t)
	l, err := logger.Setup(cfg.Server)
	require.NoError(t, err)

	app, err := newApplication(cfg, l)
	require.NoError(t, err)
	t.Cleanup(app.cleanup)
	return app
}

func TestApplicationWiring(t *testing.T) {
	app := newTestApp(t)

	assert.NotNil(t, app.blobs)
	assert.NotNil(t, app.orchestrator)
	assert.NotNil(t, app.slots)
	assert.NotNil(t, app.admission)
	assert.NotNil(t, app.idempotency)
	assert.NotNil(t, app.respCache)
	assert.NotNil(t, app.keystore)
	assert.Nil(t, app.monitor, "monitor should stay off when disabled")
	assert.Nil(t, app.tokens, "token service should stay off without a secret")
}

func TestRouterHealth(t *testing.T) {
	app := newTestApp(t)
	router := app.setupRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestRouterMethodsCached(t *testing.T) {
	app := newTestApp(t)
	router := app.setupRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/methods", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "MISS", rr.Header().Get("X-Cache"))

	var methods []api.MethodResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &methods))
	assert.Len(t, methods, 2, "built-in converter set should be registered")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/methods", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "HIT", rr.Header().Get("X-Cache"))
}

func TestRouterStats(t *testing.T) {
	app := newTestApp(t)
	router := app.setupRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp api.StatsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Jobs.Active)
	require.NotNil(t, resp.Pool)
	assert.Equal(t, 0, resp.Pool.InUse)
}

func TestRouterRateLimitHeadersPresent(t *testing.T) {
	app := newTestApp(t)
	router := app.setupRouter()

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rr.Header().Get("X-RateLimit-Remaining"))
}
