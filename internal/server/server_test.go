package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldtrack/fieldtrack/internal/auth"
	"github.com/fieldtrack/fieldtrack/internal/config"
	"github.com/fieldtrack/fieldtrack/internal/directory"
	"github.com/fieldtrack/fieldtrack/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Auth:    config.AuthConfig{Secret: "server-test-secret"},
		Storage: config.StorageConfig{Mode: "memory"},
		Tracking: config.TrackingConfig{
			Ordering:           "arrival",
			RecentThreshold:    10 * time.Minute,
			GoodAccuracyMeters: 50,
			GovernorWindow:     5 * time.Second,
			GovernorLimit:      20,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:              true,
			PerMinute:            3,
			PrivilegedMultiplier: 5,
			Window:               time.Minute,
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := directory.NewStaticDirectory(
		types.AgentProfile{AgentID: "agent-1", TenantID: "tenant-a", Name: "Ada", TrackingEnabled: true},
	)
	srv, err := New(testConfig(), dir)
	require.NoError(t, err)
	return srv
}

func mintToken(t *testing.T, srv *Server, agentID, tenantID, role string) string {
	t.Helper()
	raw, err := auth.NewVerifier("server-test-secret").Mint(agentID, tenantID, role, time.Hour)
	require.NoError(t, err)
	return raw
}

func get(srv *Server, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := get(srv, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	w := get(srv, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fieldtrack_")
}

func TestAPIRequiresAuthentication(t *testing.T) {
	srv := newTestServer(t)

	w := get(srv, "/api/v1/agents/agent-1/position", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = get(srv, "/api/v1/tenants/tenant-a/positions", "garbage-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthenticatedRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	token := mintToken(t, srv, "agent-1", "tenant-a", "")

	w := get(srv, "/api/v1/tenants/tenant-a/positions", token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestRateLimit(t *testing.T) {
	srv := newTestServer(t)
	token := mintToken(t, srv, "agent-1", "tenant-a", "")

	for i := 0; i < 3; i++ {
		w := get(srv, "/api/v1/tenants/tenant-a/positions", token)
		require.Equal(t, http.StatusOK, w.Code, "request %d within the ceiling", i+1)
	}

	w := get(srv, "/api/v1/tenants/tenant-a/positions", token)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestPrivilegedRateCeilingIsHigher(t *testing.T) {
	srv := newTestServer(t)
	token := mintToken(t, srv, "ops-1", "tenant-a", auth.RoleAdmin)

	// Admin ceiling is per_minute times the multiplier, so a burst past the
	// base ceiling still passes.
	for i := 0; i < 10; i++ {
		w := get(srv, "/api/v1/tenants/tenant-a/positions", token)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
}
