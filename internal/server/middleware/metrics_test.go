package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry"
	telemetrytesting "github.com/fulmenhq/gofulmen/telemetry/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmdm/nmdm/internal/observability"
)

func setupTelemetry(t *testing.T) *telemetrytesting.FakeCollector {
	t.Helper()

	collector := telemetrytesting.NewFakeCollector()
	sys, err := telemetry.NewSystem(&telemetry.Config{
		Enabled: true,
		Emitter: collector,
	})
	require.NoError(t, err)

	original := observability.TelemetrySystem
	observability.TelemetrySystem = sys
	t.Cleanup(func() { observability.TelemetrySystem = original })

	return collector
}

func TestRequestMetricsEmitsPerStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		wantErrors bool
	}{
		{name: "accepted", status: http.StatusAccepted},
		{name: "conflict", status: http.StatusConflict, wantErrors: true},
		{name: "internal", status: http.StatusInternalServerError, wantErrors: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := setupTelemetry(t)

			handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/ports/nmdm0A/output", nil)
			req.Header.Set("Content-Length", "1024")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Greater(t, collector.CountMetricsByName("http_requests_total"), 0)
			assert.Greater(t, collector.CountMetricsByName("http_request_duration_ms"), 0)
			assert.Greater(t, collector.CountMetricsByName("http_request_size_bytes"), 0)
			assert.Greater(t, collector.CountMetricsByName("http_response_size_bytes"), 0)
			if tt.wantErrors {
				assert.Greater(t, collector.CountMetricsByName("http_errors_total"), 0)
			} else {
				assert.Equal(t, 0, collector.CountMetricsByName("http_errors_total"))
			}
		})
	}
}

func TestRequestMetricsWithTelemetryDisabled(t *testing.T) {
	original := observability.TelemetrySystem
	observability.TelemetrySystem = nil
	t.Cleanup(func() { observability.TelemetrySystem = original })

	handler := RequestMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pairs", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEndpointPatternFallbacks(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health/*"},
		{"/health/ready", "/health/*"},
		{"/version", "/version"},
		{"/metrics", "/metrics"},
		{"/v1/pairs", "/v1/pairs/*"},
		{"/v1/pairs/12", "/v1/pairs/*"},
		{"/v1/ports/nmdm3B/input", "/v1/ports/*"},
		{"/api/users/123", "/unknown"},
		{"/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.expected, getEndpointPattern(req))
		})
	}
}

func TestRequestIDPropagation(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/pairs", nil)
	req.Header.Set(RequestIDHeader, "test-request-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "test-request-id", seen)
	assert.Equal(t, "test-request-id", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/pairs", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
}

func TestRecoveryWritesCriticalEnvelope(t *testing.T) {
	collector := setupTelemetry(t)

	handler := RequestID(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("transfer task exploded")
	})))

	req := httptest.NewRequest(http.MethodGet, "/v1/pairs", nil)
	req.Header.Set(RequestIDHeader, "panic-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.Equal(t, "panic-id", body.Error.RequestID)
	assert.Contains(t, body.Error.Message, "transfer task exploded")
	assert.Greater(t, collector.CountMetricsByName("panics_total"), 0)
}
