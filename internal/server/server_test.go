package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/securex-labs/securex/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing (in-memory storage)
func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		JWTSecret:         "server-test-secret-16-chars",
		ClientURL:         "http://localhost:3000",
		RateLimitRPM:      100000, // effectively unlimited for tests
		DefaultRoom:       "global",
		TranscribeURL:     "http://127.0.0.1:0",
		TranscribeTimeout: time.Second,
		SpamServiceURL:    "http://127.0.0.1:0",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

func (s *Server) mintTestToken(t *testing.T) string {
	t.Helper()
	token, err := s.authMgr.Mint("test-user", "analyst", time.Hour)
	require.NoError(t, err)
	return token
}

func do(s *Server, method, path, body, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	s.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")

	w = do(s, "GET", "/health/live", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Readiness flips only after Run
	w = do(s, "GET", "/health/ready", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "securex_")
}

func TestAPIRequiresAuth(t *testing.T) {
	s := newTestServer(t)

	paths := []struct{ method, path string }{
		{"POST", "/v1/threats"},
		{"GET", "/v1/threats"},
		{"POST", "/v1/score"},
		{"POST", "/v1/call/start"},
		{"POST", "/v1/transcribe"},
		{"POST", "/v1/spam/predict"},
		{"GET", "/v1/realtime/stats"},
	}
	for _, p := range paths {
		w := do(s, p.method, p.path, "", "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", p.method, p.path)
	}
}

func TestDevTokenFlow(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "POST", "/v1/auth/token", `{"userId":"analyst-7"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	// The minted token opens the protected surface.
	w = do(s, "GET", "/v1/threats", "", resp.Token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDevTokenDisabledInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Env = "production"
	s, err := New(cfg)
	require.NoError(t, err)

	w := do(s, "POST", "/v1/auth/token", `{"userId":"x"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestThreatPipelineEndToEnd(t *testing.T) {
	s := newTestServer(t)
	token := s.mintTestToken(t)

	body := `{
		"type": "insider_threat",
		"description": "mass export of customer records",
		"features": {"loginAttempts": 300, "amount": 500000},
		"baselines": {
			"loginAttempts": {"median": 4, "mad": 2},
			"amount": {"median": 150, "mad": 60}
		}
	}`

	w := do(s, "POST", "/v1/threats", body, token)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Threat struct {
			ID        string  `json:"id"`
			RiskScore float64 `json:"riskScore"`
			RiskLabel string  `json:"riskLabel"`
		} `json:"threat"`
		Alerted bool `json:"alerted"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "critical", resp.Threat.RiskLabel)
	assert.True(t, resp.Alerted)

	// Record is retrievable and counted.
	w = do(s, "GET", "/v1/threats/"+resp.Threat.ID, "", token)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(s, "GET", "/v1/threats/stats", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestCallControlRoutes(t *testing.T) {
	s := newTestServer(t)
	token := s.mintTestToken(t)

	w := do(s, "POST", "/v1/call/start", `{"room":"ops"}`, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"started":true`)

	w = do(s, "POST", "/v1/call/end", `{"room":"ops"}`, token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ended":true`)
}

func TestCallControlRejectsReadOnlyRole(t *testing.T) {
	s := newTestServer(t)
	token, err := s.authMgr.Mint("viewer-1", "viewer", time.Hour)
	require.NoError(t, err)

	// Viewers read the dashboard but cannot drive call state.
	w := do(s, "POST", "/v1/call/start", `{"room":"ops"}`, token)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// The rest of the protected surface stays open to them.
	w = do(s, "GET", "/v1/threats", "", token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebSocketHandshakeRequiresToken(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/ws", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t)

	w := do(s, "GET", "/", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	// Upstream-provided IDs are preserved.
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Request-ID", "lb-abc123")
	w = httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	assert.Equal(t, "lb-abc123", w.Header().Get("X-Request-ID"))
}
