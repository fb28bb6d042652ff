package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Manager owns the tracer provider and metrics for the process lifetime.
type Manager struct {
	config         Config
	tracerProvider trace.TracerProvider
	shutdownTracer func(context.Context) error
	metrics        *Metrics
}

// NewManager initializes tracing and, when enabled, metrics.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	tp, shutdown, err := InitTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	m := &Manager{config: cfg, tracerProvider: tp, shutdownTracer: shutdown}

	if cfg.Metrics.IsEnabled() {
		metrics, err := NewMetrics()
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize metrics: %w", err)
		}
		m.metrics = metrics
	}
	return m, nil
}

// Tracer returns the service tracer.
func (m *Manager) Tracer() trace.Tracer {
	return m.tracerProvider.Tracer(InstrumentationName)
}

// Metrics returns the metrics, or nil when disabled.
func (m *Manager) Metrics() *Metrics {
	return m.metrics
}

// MetricsEndpoint returns the scrape path, or "" when metrics are disabled.
func (m *Manager) MetricsEndpoint() string {
	if m.metrics == nil {
		return ""
	}
	return m.config.Metrics.Endpoint
}

// Shutdown flushes exporters.
func (m *Manager) Shutdown(ctx context.Context) error {
	return errors.Join(m.shutdownTracer(ctx), m.metrics.Shutdown(ctx))
}
