package registry

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/voxgate/pkg/dbutil"
)

// ServiceStore persists services registered through the admin API.
type ServiceStore interface {
	// List returns the services of tenant, or of every tenant when tenant
	// is empty.
	List(ctx context.Context, tenant string) ([]*Service, error)
	Upsert(ctx context.Context, svc *Service) error
	Delete(ctx context.Context, tenant, name string) error
}

// MemoryStore keeps registered services in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	services map[string]*Service
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{services: make(map[string]*Service)}
}

func (m *MemoryStore) List(_ context.Context, tenant string) ([]*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Service
	for _, svc := range m.services {
		if tenant == "" || svc.Tenant == tenant {
			cp := *svc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tenant != out[j].Tenant {
			return out[i].Tenant < out[j].Tenant
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) Upsert(_ context.Context, svc *Service) error {
	cp := *svc
	m.mu.Lock()
	m.services[healthKey(svc.Tenant, svc.Name)] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, tenant, name string) error {
	m.mu.Lock()
	delete(m.services, healthKey(tenant, name))
	m.mu.Unlock()
	return nil
}

var serviceSchema = []string{
	`CREATE TABLE IF NOT EXISTS tenant_services (
    tenant_id VARCHAR(255) NOT NULL,
    service_name VARCHAR(255) NOT NULL,
    base_url TEXT NOT NULL,
    health_path VARCHAR(255) NOT NULL,
    timeout_ms BIGINT NOT NULL,
    required BOOLEAN NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, service_name)
)`,
}

// SQLStore persists registered services in the tenant_services table.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates the table if needed.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if err := dbutil.ValidateDialect(dialect); err != nil {
		return nil, err
	}

	for _, stmt := range serviceSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create service schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) List(ctx context.Context, tenant string) ([]*Service, error) {
	query := `SELECT tenant_id, service_name, base_url, health_path, timeout_ms, required FROM tenant_services`
	var args []any
	if tenant != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenant)
	}
	query += ` ORDER BY tenant_id, service_name`

	rows, err := s.db.QueryContext(ctx, dbutil.Rebind(s.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var out []*Service
	for rows.Next() {
		var (
			svc       Service
			timeoutMS int64
		)
		if err := rows.Scan(&svc.Tenant, &svc.Name, &svc.BaseURL, &svc.HealthPath, &timeoutMS, &svc.Required); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		svc.Timeout = time.Duration(timeoutMS) * time.Millisecond
		svc.Source = SourceRegistered
		out = append(out, &svc)
	}
	return out, rows.Err()
}

func (s *SQLStore) Upsert(ctx context.Context, svc *Service) error {
	query := `INSERT INTO tenant_services (tenant_id, service_name, base_url, health_path, timeout_ms, required, updated_at)
VALUES (` + dbutil.Placeholders(7) + `)` +
		dbutil.Upsert(s.dialect,
			[]string{"tenant_id", "service_name"},
			[]string{"base_url", "health_path", "timeout_ms", "required", "updated_at"})

	_, err := s.db.ExecContext(ctx, dbutil.Rebind(s.dialect, query),
		svc.Tenant, svc.Name, svc.BaseURL, svc.HealthPath, svc.Timeout.Milliseconds(), svc.Required, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert service: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, tenant, name string) error {
	query := `DELETE FROM tenant_services WHERE tenant_id = ? AND service_name = ?`
	if _, err := s.db.ExecContext(ctx, dbutil.Rebind(s.dialect, query), tenant, name); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return nil
}
