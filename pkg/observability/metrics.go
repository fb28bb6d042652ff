package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics records dispatch, health, job and HTTP instruments through an
// OpenTelemetry meter exported in Prometheus format.
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	dispatchDuration    metric.Float64Histogram
	dispatchTotal       metric.Int64Counter
	serviceHealth       metric.Int64Gauge
	healthChecks        metric.Int64Counter
	jobTransitions      metric.Int64Counter
	jobsCleaned         metric.Int64Counter
	interactionsDropped metric.Int64Counter
	reloads             metric.Int64Counter
	httpDuration        metric.Float64Histogram
}

// NewMetrics creates the instruments on a private Prometheus registry.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter(InstrumentationName)

	m := &Metrics{registry: registry, provider: provider}

	if m.dispatchDuration, err = meter.Float64Histogram(
		"voxgate_dispatch_duration_seconds",
		metric.WithDescription("Tool dispatch latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch duration histogram: %w", err)
	}

	if m.dispatchTotal, err = meter.Int64Counter(
		"voxgate_dispatch_total",
		metric.WithDescription("Tool dispatches by outcome"),
	); err != nil {
		return nil, fmt.Errorf("failed to create dispatch counter: %w", err)
	}

	if m.serviceHealth, err = meter.Int64Gauge(
		"voxgate_service_health",
		metric.WithDescription("Last health check per service (1 healthy, 0 unhealthy, -1 unknown)"),
	); err != nil {
		return nil, fmt.Errorf("failed to create service health gauge: %w", err)
	}

	if m.healthChecks, err = meter.Int64Counter(
		"voxgate_health_checks_total",
		metric.WithDescription("Service health checks by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create health check counter: %w", err)
	}

	if m.jobTransitions, err = meter.Int64Counter(
		"voxgate_job_transitions_total",
		metric.WithDescription("Applied job state transitions by target status"),
	); err != nil {
		return nil, fmt.Errorf("failed to create job transitions counter: %w", err)
	}

	if m.jobsCleaned, err = meter.Int64Counter(
		"voxgate_jobs_cleaned_total",
		metric.WithDescription("Terminal jobs removed by cleanup"),
	); err != nil {
		return nil, fmt.Errorf("failed to create jobs cleaned counter: %w", err)
	}

	if m.interactionsDropped, err = meter.Int64Counter(
		"voxgate_interactions_dropped_total",
		metric.WithDescription("Interaction records dropped because the buffer was full"),
	); err != nil {
		return nil, fmt.Errorf("failed to create interactions dropped counter: %w", err)
	}

	if m.reloads, err = meter.Int64Counter(
		"voxgate_tenant_reloads_total",
		metric.WithDescription("Tenant document reloads by result"),
	); err != nil {
		return nil, fmt.Errorf("failed to create reload counter: %w", err)
	}

	if m.httpDuration, err = meter.Float64Histogram(
		"voxgate_http_request_duration_seconds",
		metric.WithDescription("Inbound HTTP request latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	return m, nil
}

// Handler serves the Prometheus scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordDispatch records one dispatch outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, tenant, tool, outcome, errorKind string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
		attribute.String("error_kind", errorKind),
	)
	m.dispatchTotal.Add(ctx, 1, attrs)
	m.dispatchDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("tool", tool),
	))
}

// RecordHealth records a health check result.
func (m *Metrics) RecordHealth(ctx context.Context, tenant, service, status string) {
	if m == nil {
		return
	}
	var v int64
	switch status {
	case "healthy":
		v = 1
	case "unhealthy":
		v = 0
	default:
		v = -1
	}
	svc := metric.WithAttributes(attribute.String("tenant", tenant), attribute.String("service", service))
	m.serviceHealth.Record(ctx, v, svc)
	m.healthChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordJobTransition counts an applied job transition.
func (m *Metrics) RecordJobTransition(ctx context.Context, requestType, status string) {
	if m == nil {
		return
	}
	m.jobTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("request_type", requestType),
		attribute.String("status", status),
	))
}

// RecordJobsCleaned counts jobs removed by a cleanup sweep.
func (m *Metrics) RecordJobsCleaned(ctx context.Context, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.jobsCleaned.Add(ctx, n)
}

// RecordInteractionDropped counts a record dropped by the interaction log.
func (m *Metrics) RecordInteractionDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.interactionsDropped.Add(ctx, 1)
}

// RecordReload counts a tenant document reload.
func (m *Metrics) RecordReload(ctx context.Context, tenant string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("result", result),
	))
}

// RecordHTTPRequest records one inbound request.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}
