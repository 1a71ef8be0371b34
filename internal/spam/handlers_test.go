package spam

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSpamRouter(t *testing.T, client *Client) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	NewHandler(client).RegisterRoutes(r.Group("/v1"))
	return r
}

func doPredict(r *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/spam/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestPredictHandler_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"labels":["spam"]}`))
	}))
	defer srv.Close()

	r := newSpamRouter(t, newClientFor(srv, time.Second))

	w := doPredict(r, `{"texts":["win a free prize"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"labels":["spam"]`)
}

func TestPredictHandler_MissingTexts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be called for an invalid request")
	}))
	defer srv.Close()

	r := newSpamRouter(t, newClientFor(srv, time.Second))

	w := doPredict(r, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "texts array is required")

	w = doPredict(r, `{"texts":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictHandler_BatchLimit(t *testing.T) {
	r := newSpamRouter(t, New(Config{BaseURL: "http://127.0.0.1:0"}, slog.Default()))

	texts := make([]string, maxBatchSize+1)
	body := `{"texts":["` + strings.Join(texts, `","`) + `"]}`
	w := doPredict(r, body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "batch_too_large")
}

func TestPredictHandler_ForwardsUpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"model not loaded"}`))
	}))
	defer srv.Close()

	r := newSpamRouter(t, newClientFor(srv, time.Second))

	w := doPredict(r, `{"texts":["hello"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "model not loaded")
}

func TestPredictHandler_UnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	r := newSpamRouter(t, newClientFor(srv, time.Second))

	w := doPredict(r, `{"texts":["hello"]}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "upstream_unreachable")
}
