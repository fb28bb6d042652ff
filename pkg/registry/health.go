package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// HealthStatus is the outcome of a health check.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Unhealthy HealthStatus = "unhealthy"
	Unknown   HealthStatus = "unknown"
)

// HealthResult is a single health check observation.
type HealthResult struct {
	Tenant     string        `json:"tenant_id"`
	Service    string        `json:"service_name"`
	URL        string        `json:"url,omitempty"`
	Status     HealthStatus  `json:"status"`
	Message    string        `json:"message,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	CheckedAt  time.Time     `json:"checked_at"`
}

func healthKey(tenant, name string) string {
	return tenant + "/" + name
}

// HealthCheck GETs the service health URL within the service timeout. It
// never fails: an unknown service or an unreachable host yields Unknown, a
// non-2xx status yields Unhealthy.
func (r *ServiceRegistry) HealthCheck(ctx context.Context, tenant, name string) HealthResult {
	result := HealthResult{Tenant: tenant, Service: name, CheckedAt: time.Now().UTC()}

	svc, ok := r.Snapshot(tenant).Service(name)
	if !ok {
		result.Status = Unknown
		result.Message = fmt.Sprintf("service not configured: %s", name)
		return result
	}
	result.URL = svc.HealthURL()

	ctx, cancel := context.WithTimeout(ctx, svc.Timeout)
	defer cancel()

	resp, err := r.client.Get(ctx, result.URL)
	switch {
	case resp != nil:
		result.StatusCode = resp.StatusCode
		result.Latency = resp.Latency
		if resp.OK() {
			result.Status = Healthy
		} else {
			result.Status = Unhealthy
			result.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
	case err != nil:
		result.Status = Unknown
		result.Message = err.Error()
	}

	r.healthMu.Lock()
	r.health[healthKey(tenant, name)] = result
	r.healthMu.Unlock()

	r.metrics.RecordHealth(ctx, tenant, name, string(result.Status))
	if result.Status != Healthy {
		r.logger.Warn("Service health check failed",
			"tenant", tenant, "service", name, "status", result.Status, "message", result.Message)
	}
	return result
}

// LastHealth returns the most recent cached result for a service.
func (r *ServiceRegistry) LastHealth(tenant, name string) (HealthResult, bool) {
	r.healthMu.RLock()
	defer r.healthMu.RUnlock()
	res, ok := r.health[healthKey(tenant, name)]
	return res, ok
}

func (r *ServiceRegistry) forgetHealth(tenant, name string) {
	r.healthMu.Lock()
	delete(r.health, healthKey(tenant, name))
	r.healthMu.Unlock()
}

// HealthMonitor sweeps every tenant service on an interval with a fixed
// number of workers, so checks never compete with dispatch for unbounded
// goroutines. Settings can be changed while it runs.
type HealthMonitor struct {
	registry *ServiceRegistry
	settings atomic.Pointer[MonitorSettings]
	changed  chan struct{}
	logger   *slog.Logger
}

// MonitorSettings controls a HealthMonitor. Timeout caps each check on top
// of the service timeout; zero leaves the service timeout alone.
type MonitorSettings struct {
	Interval time.Duration
	Timeout  time.Duration
	Workers  int
}

// NewHealthMonitor creates a monitor; workers below one means one.
func NewHealthMonitor(registry *ServiceRegistry, settings MonitorSettings, logger *slog.Logger) *HealthMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &HealthMonitor{registry: registry, changed: make(chan struct{}, 1), logger: logger}
	m.Update(settings)
	return m
}

// Update replaces the settings. A running monitor picks up a new interval
// on its next tick.
func (m *HealthMonitor) Update(settings MonitorSettings) {
	if settings.Workers < 1 {
		settings.Workers = 1
	}
	m.settings.Store(&settings)
	select {
	case m.changed <- struct{}{}:
	default:
	}
}

// Sweep checks every service once and returns the results.
func (m *HealthMonitor) Sweep(ctx context.Context) []HealthResult {
	settings := m.settings.Load()

	var targets []*Service
	for _, tenant := range m.registry.Tenants() {
		targets = append(targets, m.registry.Snapshot(tenant).Services()...)
	}

	results := make([]HealthResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(settings.Workers)
	for i, svc := range targets {
		g.Go(func() error {
			checkCtx := gctx
			if settings.Timeout > 0 {
				var cancel context.CancelFunc
				checkCtx, cancel = context.WithTimeout(gctx, settings.Timeout)
				defer cancel()
			}
			results[i] = m.registry.HealthCheck(checkCtx, svc.Tenant, svc.Name)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Run sweeps until ctx is cancelled. A non-positive interval pauses sweeps
// until Update sets a positive one.
func (m *HealthMonitor) Run(ctx context.Context) {
	interval := m.settings.Load().Interval
	ticker := time.NewTicker(tickInterval(interval))
	defer ticker.Stop()

	m.logger.Info("Health monitor started", "interval", interval, "workers", m.settings.Load().Workers)
	for {
		if interval > 0 {
			m.Sweep(ctx)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.changed:
			if next := m.settings.Load().Interval; next != interval {
				interval = next
				ticker.Reset(tickInterval(interval))
				m.logger.Info("Health monitor interval changed", "interval", interval)
			}
		}
	}
}

// tickInterval keeps the ticker valid while sweeps are paused.
func tickInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
