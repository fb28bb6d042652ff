package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_RecordAndScrape(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	ctx := context.Background()
	m.RecordDispatch(ctx, "acme", "search", "ok", "", 120*time.Millisecond)
	m.RecordHealth(ctx, "acme", "research", "healthy")
	m.RecordJobTransition(ctx, "research", "completed")
	m.RecordReload(ctx, "acme", errors.New("bad document"))

	out := scrape(t, m)
	assert.Contains(t, out, "voxgate_dispatch_total")
	assert.Contains(t, out, `tenant="acme"`)
	assert.Contains(t, out, "voxgate_service_health")
	assert.Contains(t, out, "voxgate_job_transitions_total")
	assert.Contains(t, out, `result="error"`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.RecordDispatch(ctx, "acme", "search", "ok", "", time.Second)
		m.RecordHealth(ctx, "acme", "research", "unknown")
		m.RecordInteractionDropped(ctx)
		m.RecordJobsCleaned(ctx, 3)
		require.NoError(t, m.Shutdown(ctx))
	})
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(HTTPMiddleware(noop.NewTracerProvider().Tracer("test"), m))
	r.Get("/job-status/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/job-status/abc-123", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	out := scrape(t, m)
	assert.Contains(t, out, `route="/job-status/{id}"`)
	assert.NotContains(t, out, "abc-123")
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, 1.0, cfg.Tracing.SamplingRate)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
	assert.True(t, cfg.Metrics.IsEnabled())
	require.NoError(t, cfg.Validate())

	cfg.Tracing.Exporter = "zipkin"
	assert.Error(t, cfg.Validate())
}
