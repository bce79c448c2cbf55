package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmdm/nmdm/internal/config"
	"github.com/nmdm/nmdm/internal/core/link"
	"github.com/nmdm/nmdm/internal/core/registry"
	apperrors "github.com/nmdm/nmdm/internal/errors"
)

func testConfig() config.Config {
	var cfg config.Config
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.ReadTimeout = 5 * time.Second
	cfg.Server.WriteTimeout = 5 * time.Second
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Health.Enabled = true
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *registry.Registry) {
	t.Helper()
	reg := registry.New(registry.Options{Workers: 1, Link: link.Options{NewTicker: link.ManualTicks}})
	t.Cleanup(func() { _ = reg.Shutdown(true) })
	return New(cfg, reg), reg
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), body.Error.RequestID)

	req = httptest.NewRequest(http.MethodPatch, "/v1/pairs", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthRoutesFollowConfig(t *testing.T) {
	srv, _ := newTestServer(t, testConfig())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg := testConfig()
	cfg.Health.Enabled = false
	srv, _ = newTestServer(t, cfg)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminEndpointRequiresToken(t *testing.T) {
	t.Setenv("NMDM_ADMIN_TOKEN", "")
	srv, _ := newTestServer(t, testConfig())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/signal", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeEndToEnd(t *testing.T) {
	srv, reg := newTestServer(t, testConfig())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	base := fmt.Sprintf("http://%s", ln.Addr())

	resp, err := http.Post(base+"/v1/pairs", "application/json", nil)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(base+"/v1/ports/nmdm0A/output", "application/octet-stream", strings.NewReader("ping"))
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	entry, err := reg.Get(0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return entry.Pair.B().Buffered() == 4 }, 2*time.Second, 5*time.Millisecond)

	resp, err = http.Get(base + "/v1/ports/nmdm0B/input")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "ping", string(body))

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, <-served)
}
