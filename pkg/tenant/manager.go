package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/voxgate/pkg/config/provider"
	"github.com/kadirpekel/voxgate/pkg/observability"
	"github.com/kadirpekel/voxgate/pkg/registry"
)

// Manager keeps the catalog and the declared services in step with the
// tenant documents on disk.
type Manager struct {
	provider *provider.DirProvider
	registry *registry.ServiceRegistry
	catalog  *Catalog
	metrics  *observability.Metrics
	logger   *slog.Logger
}

type ManagerOption func(*Manager)

func WithMetrics(m *observability.Metrics) ManagerOption {
	return func(mgr *Manager) {
		mgr.metrics = m
	}
}

func WithLogger(logger *slog.Logger) ManagerOption {
	return func(mgr *Manager) {
		mgr.logger = logger
	}
}

func WithCatalog(c *Catalog) ManagerOption {
	return func(mgr *Manager) {
		mgr.catalog = c
	}
}

// NewManager creates a manager; documents are not read until LoadAll.
func NewManager(p *provider.DirProvider, reg *registry.ServiceRegistry, opts ...ManagerOption) *Manager {
	m := &Manager{provider: p, registry: reg}
	for _, opt := range opts {
		opt(m)
	}
	if m.catalog == nil {
		m.catalog = NewCatalog()
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Catalog returns the published tool sets.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// LoadAll loads every tenant document. A broken document does not prevent
// the others from loading; all failures are returned joined.
func (m *Manager) LoadAll(ctx context.Context) error {
	tenants, err := m.provider.List()
	if err != nil {
		return err
	}

	var errs []error
	for _, tenant := range tenants {
		if _, err := m.Reload(ctx, tenant); err != nil {
			errs = append(errs, err)
		}
	}
	m.logger.Info("Tenant documents loaded", "tenants", len(tenants), "failed", len(errs))
	return errors.Join(errs...)
}

// Reload re-reads one tenant document and publishes it. The services are
// published before the tools so a new tool never resolves against services
// of an older document. A removed document unloads the tenant; a broken one
// leaves the previous version in place.
func (m *Manager) Reload(ctx context.Context, tenant string) (*ToolSet, error) {
	data, err := m.provider.Load(ctx, tenant)
	if errors.Is(err, provider.ErrDocumentNotFound) {
		m.catalog.Remove(tenant)
		m.registry.RemoveTenant(tenant)
		m.logger.Info("Tenant unloaded", "tenant", tenant)
		return nil, err
	}
	if err != nil {
		m.metrics.RecordReload(ctx, tenant, err)
		return nil, err
	}

	set, err := m.apply(data, tenant)
	m.metrics.RecordReload(ctx, tenant, err)
	if err != nil {
		m.logger.Error("Tenant reload failed, keeping previous version", "tenant", tenant, "error", err)
		return nil, err
	}

	m.logger.Info("Tenant reloaded", "tenant", tenant, "tools", set.Len(), "version", set.Version)
	return set, nil
}

func (m *Manager) apply(data []byte, tenant string) (*ToolSet, error) {
	doc, err := ParseDocument(data, tenant)
	if err != nil {
		return nil, err
	}
	if err := m.registry.Reload(doc.Tenant, doc.ServiceDefinitions(), doc.Variables); err != nil {
		return nil, fmt.Errorf("failed to publish services: %w", err)
	}
	return m.catalog.Publish(doc), nil
}

// Watch reloads tenants as their documents change, until ctx is cancelled.
func (m *Manager) Watch(ctx context.Context) error {
	changes, err := m.provider.Watch(ctx)
	if err != nil {
		return err
	}
	for tenant := range changes {
		_, _ = m.Reload(ctx, tenant)
	}
	return nil
}
