package api_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/macroscope/macroscope/internal/api"
	"github.com/macroscope/macroscope/internal/handlers/testutil"
)

func TestNewRouterValidatesDependencies(t *testing.T) {
	env := testutil.NewEnv(t)

	_, err := api.NewRouter(nil, env.Config, env.Infra, env.Services)
	require.Error(t, err)

	_, err = api.NewRouter(env.DB, nil, env.Infra, env.Services)
	require.Error(t, err)

	_, err = api.NewRouter(env.DB, env.Config, &api.Infrastructure{}, env.Services)
	require.Error(t, err)

	_, err = api.NewRouter(env.DB, env.Config, env.Infra, nil)
	require.Error(t, err)
}

func TestRouterRegistersSurface(t *testing.T) {
	env := testutil.NewEnv(t)

	registered := make(map[string]struct{})
	for _, route := range env.Router.Routes() {
		registered[route.Method+" "+route.Path] = struct{}{}
	}

	for _, want := range []string{
		"GET /health",
		"GET /health/ready",
		"GET /api/health/live",
		"GET /files/:bucket/*path",
		"POST /api/auth/register",
		"POST /api/auth/verify-email",
		"POST /api/auth/forgot-password",
		"GET /api/invitations/token/:token",
		"GET /api/profile",
		"GET /api/users/:id",
		"GET /api/groups/search",
		"POST /api/groups/:id/transfer",
		"GET /api/groups/:id/projects",
		"POST /api/projects/:id/files",
		"GET /api/files/:fileId/download",
		"POST /api/notifications/:id/respond",
		"DELETE /api/account",
		"GET /api/realtime",
	} {
		_, ok := registered[want]
		require.True(t, ok, "missing route %s", want)
	}

	_, ok := registered["GET /metrics"]
	require.False(t, ok, "metrics disabled in test config")
}

func TestRouterMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	env := testutil.NewEnv(t)

	cfg := *env.Config
	cfg.Monitoring.Prometheus.Enabled = true
	cfg.Monitoring.Prometheus.Endpoint = "/internal/metrics"

	router, err := api.NewRouter(env.DB, &cfg, env.Infra, env.Services)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/metrics", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "macroscope_")
}

func TestRouterRateLimitsPublicAuthRoutes(t *testing.T) {
	env := testutil.NewEnv(t)

	cfg := *env.Config
	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.Requests = 2

	router, err := api.NewRouter(env.DB, &cfg, env.Infra, env.Services)
	require.NoError(t, err)

	status := func(path string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "198.51.100.7:5000"
		router.ServeHTTP(w, req)
		return w.Code
	}

	require.Equal(t, http.StatusBadRequest, status("/api/auth/login"))
	require.Equal(t, http.StatusBadRequest, status("/api/auth/login"))
	require.Equal(t, http.StatusTooManyRequests, status("/api/auth/login"))
}

func TestRouterHealthReportsChecks(t *testing.T) {
	env := testutil.NewEnv(t)

	w := httptest.NewRecorder()
	env.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var report struct {
		Success bool `json:"success"`
		Checks  []struct {
			Component string `json:"component"`
			Status    string `json:"status"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.True(t, report.Success)

	components := make([]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		components = append(components, check.Component)
		require.Equal(t, "up", check.Status, check.Component)
	}
	require.ElementsMatch(t, []string{"database", "storage", "maintenance"}, components)

	env.Infra.Jobs.RecordRun("session", errors.New("locked"), 0)
	env.Infra.Jobs.RecordRun("session", errors.New("locked"), 0)

	w = httptest.NewRecorder()
	env.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	env.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
