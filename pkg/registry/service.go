package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/httpclient"
	"github.com/kadirpekel/voxgate/pkg/observability"
	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

var (
	ErrServiceNotFound = errors.New("service not found")
	ErrDeclaredService = errors.New("service is declared outside the admin API")
)

// EnvServiceSuffix marks process variables that declare a service for every
// tenant: RESEARCH_SERVICE_URL declares the service "research".
const EnvServiceSuffix = "_SERVICE_URL"

const (
	DefaultHealthPath = "/health"
	DefaultTimeout    = 5 * time.Second
)

// Source tells where a service definition came from.
type Source string

const (
	SourceEnvironment Source = "environment"
	SourceDeclared    Source = "declared"
	SourceRegistered  Source = "registered"
)

// Service is a tenant's logical backend endpoint.
type Service struct {
	Tenant     string        `json:"tenant_id"`
	Name       string        `json:"service_name"`
	BaseURL    string        `json:"service_url"`
	HealthPath string        `json:"health_path"`
	Timeout    time.Duration `json:"timeout"`
	Required   bool          `json:"required"`
	Source     Source        `json:"source"`
}

// SetDefaults fills the health path and timeout.
func (s *Service) SetDefaults() {
	if s.HealthPath == "" {
		s.HealthPath = DefaultHealthPath
	}
	if !strings.HasPrefix(s.HealthPath, "/") {
		s.HealthPath = "/" + s.HealthPath
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
}

// Validate checks the service after defaults are applied.
func (s *Service) Validate() error {
	if s.Tenant == "" {
		return fmt.Errorf("tenant is required")
	}
	if s.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if strings.ContainsAny(s.Name, "/ ") {
		return fmt.Errorf("service name %q must not contain '/' or spaces", s.Name)
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("service %s: base url %q must be an absolute http(s) url", s.Name, s.BaseURL)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("service %s: timeout must be non-negative", s.Name)
	}
	return nil
}

// HealthURL joins the base URL and the health path.
func (s *Service) HealthURL() string {
	return JoinURL(s.BaseURL, s.HealthPath)
}

// JoinURL joins base and path with exactly one slash between them.
func JoinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return base
	}
	return base + "/" + path
}

// Snapshot is an immutable view of one tenant's services and variables.
// A dispatch holds on to a single Snapshot from start to finish.
type Snapshot struct {
	Tenant  string
	Version uint64

	services map[string]*Service
	vars     map[string]string
	env      config.Environment
}

// Service returns the service registered under name.
func (s *Snapshot) Service(name string) (*Service, bool) {
	svc, ok := s.services[name]
	return svc, ok
}

// Services returns the services ordered by name.
func (s *Snapshot) Services() []*Service {
	out := make([]*Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup resolves a variable from the tenant document first and the process
// environment second.
func (s *Snapshot) Lookup(key string) (string, bool) {
	if v, ok := s.vars[key]; ok {
		return v, true
	}
	return s.env.Lookup(key)
}

// ServiceRegistry holds per-tenant service snapshots. Reads are lock free;
// writes rebuild the affected tenant's snapshot and publish it in one swap.
//
// Services come from three layers, lowest precedence first: *_SERVICE_URL
// process variables, the tenant document, and the admin API. Registered
// services are persisted through the ServiceStore.
type ServiceRegistry struct {
	tenants *CopyOnWrite[*Snapshot]
	env     config.Environment
	store   ServiceStore
	client  *httpclient.Client
	metrics *observability.Metrics
	logger  *slog.Logger

	mu         sync.Mutex
	version    uint64
	declared   map[string]map[string]*Service
	vars       map[string]map[string]string
	registered map[string]map[string]*Service
	fromEnv    map[string]*Service

	healthMu sync.RWMutex
	health   map[string]HealthResult
}

type Option func(*ServiceRegistry)

func WithEnvironment(env config.Environment) Option {
	return func(r *ServiceRegistry) {
		r.env = env
	}
}

func WithStore(store ServiceStore) Option {
	return func(r *ServiceRegistry) {
		r.store = store
	}
}

func WithHTTPClient(client *httpclient.Client) Option {
	return func(r *ServiceRegistry) {
		r.client = client
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(r *ServiceRegistry) {
		r.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *ServiceRegistry) {
		r.logger = logger
	}
}

// New creates an empty registry.
func New(opts ...Option) *ServiceRegistry {
	r := &ServiceRegistry{
		tenants:    NewCopyOnWrite[*Snapshot](),
		declared:   make(map[string]map[string]*Service),
		vars:       make(map[string]map[string]string),
		registered: make(map[string]map[string]*Service),
		health:     make(map[string]HealthResult),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.env == nil {
		r.env = config.Environment{}
	}
	if r.store == nil {
		r.store = NewMemoryStore()
	}
	if r.client == nil {
		r.client = httpclient.New()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.fromEnv = r.environmentServices()
	return r
}

// LoadRegistered reads every persisted service into the registered layer.
func (r *ServiceRegistry) LoadRegistered(ctx context.Context) error {
	services, err := r.store.List(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load registered services: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	touched := make(map[string]bool)
	for _, svc := range services {
		svc.Source = SourceRegistered
		if r.registered[svc.Tenant] == nil {
			r.registered[svc.Tenant] = make(map[string]*Service)
		}
		r.registered[svc.Tenant][svc.Name] = svc
		touched[svc.Tenant] = true
	}
	for tenant := range touched {
		r.publishLocked(tenant)
	}
	r.logger.Info("Loaded registered services", "count", len(services), "tenants", len(touched))
	return nil
}

// Reload replaces the declared layer and variables of tenant. Nothing is
// published if any service is invalid.
func (r *ServiceRegistry) Reload(tenant string, services []*Service, vars map[string]string) error {
	declared := make(map[string]*Service, len(services))
	var errs []error
	for _, in := range services {
		svc := *in
		svc.Tenant = tenant
		svc.Source = SourceDeclared
		svc.SetDefaults()
		if err := svc.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := declared[svc.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate service %q", svc.Name))
			continue
		}
		declared[svc.Name] = &svc
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("tenant %s: %w", tenant, err)
	}

	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.declared[tenant] = declared
	r.vars[tenant] = copied
	r.publishLocked(tenant)
	return nil
}

// Register persists svc in the registered layer, replacing any service with
// the same name.
func (r *ServiceRegistry) Register(ctx context.Context, in *Service) (*Service, error) {
	svc := *in
	svc.Source = SourceRegistered
	svc.SetDefaults()
	if err := svc.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Upsert(ctx, &svc); err != nil {
		return nil, fmt.Errorf("failed to persist service %s: %w", svc.Name, err)
	}
	if r.registered[svc.Tenant] == nil {
		r.registered[svc.Tenant] = make(map[string]*Service)
	}
	r.registered[svc.Tenant][svc.Name] = &svc
	r.publishLocked(svc.Tenant)

	r.logger.Info("Service registered", "tenant", svc.Tenant, "service", svc.Name, "url", svc.BaseURL)
	return &svc, nil
}

// Unregister removes a registered service. Declared services can only be
// removed by editing the tenant document.
func (r *ServiceRegistry) Unregister(ctx context.Context, tenant, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.registered[tenant][name]; !ok {
		if _, declared := r.declared[tenant][name]; declared {
			return fmt.Errorf("%s/%s: %w", tenant, name, ErrDeclaredService)
		}
		if _, env := r.fromEnv[name]; env {
			return fmt.Errorf("%s/%s: set by %s%s: %w", tenant, name, strings.ToUpper(name), EnvServiceSuffix, ErrDeclaredService)
		}
		return fmt.Errorf("%s/%s: %w", tenant, name, ErrServiceNotFound)
	}
	if err := r.store.Delete(ctx, tenant, name); err != nil {
		return fmt.Errorf("failed to delete service %s: %w", name, err)
	}
	delete(r.registered[tenant], name)
	r.publishLocked(tenant)
	r.forgetHealth(tenant, name)

	r.logger.Info("Service unregistered", "tenant", tenant, "service", name)
	return nil
}

// RemoveTenant drops the declared layer of tenant. Registered services stay.
func (r *ServiceRegistry) RemoveTenant(tenant string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.declared, tenant)
	delete(r.vars, tenant)
	r.publishLocked(tenant)
}

func (r *ServiceRegistry) publishLocked(tenant string) {
	merged := r.envLayer(tenant)
	for name, svc := range r.declared[tenant] {
		merged[name] = svc
	}
	for name, svc := range r.registered[tenant] {
		merged[name] = svc
	}

	if len(r.declared[tenant]) == 0 && len(r.registered[tenant]) == 0 && len(r.vars[tenant]) == 0 {
		_ = r.tenants.Remove(tenant)
		return
	}

	r.version++
	r.tenants.Put(tenant, &Snapshot{
		Tenant:   tenant,
		Version:  r.version,
		services: merged,
		vars:     r.vars[tenant],
		env:      r.env,
	})
}

// Snapshot returns the current snapshot of tenant. Unknown tenants get an
// empty snapshot that still resolves absolute and environment URLs.
func (r *ServiceRegistry) Snapshot(tenant string) *Snapshot {
	if snap, ok := r.tenants.Get(tenant); ok {
		return snap
	}
	return &Snapshot{Tenant: tenant, services: r.envLayer(tenant), env: r.env}
}

// envLayer returns copies of the environment services owned by tenant.
func (r *ServiceRegistry) envLayer(tenant string) map[string]*Service {
	out := make(map[string]*Service, len(r.fromEnv))
	for name, svc := range r.fromEnv {
		cp := *svc
		cp.Tenant = tenant
		out[name] = &cp
	}
	return out
}

func (r *ServiceRegistry) environmentServices() map[string]*Service {
	out := make(map[string]*Service)
	for key, value := range r.env {
		prefix, ok := strings.CutSuffix(key, EnvServiceSuffix)
		if !ok || prefix == "" || value == "" {
			continue
		}
		svc := &Service{
			Tenant:   "*",
			Name:     strings.ToLower(prefix),
			BaseURL:  value,
			Required: true,
			Source:   SourceEnvironment,
		}
		svc.SetDefaults()
		if err := svc.Validate(); err != nil {
			r.logger.Warn("Ignoring service from environment", "variable", key, "error", err)
			continue
		}
		out[svc.Name] = svc
	}
	return out
}

// Tenants returns tenants that have at least one service or variable.
func (r *ServiceRegistry) Tenants() []string {
	return r.tenants.Names()
}

// Resolve returns the base URL of a tenant service.
func (r *ServiceRegistry) Resolve(tenant, name string) (string, error) {
	svc, ok := r.Snapshot(tenant).Service(name)
	if !ok {
		return "", toolerr.Configuration("", "service not configured: %s", name)
	}
	return svc.BaseURL, nil
}

// ServiceURL returns base URL joined with endpoint.
func (r *ServiceRegistry) ServiceURL(tenant, name, endpoint string) (string, error) {
	base, err := r.Resolve(tenant, name)
	if err != nil {
		return "", err
	}
	return JoinURL(base, endpoint), nil
}

// Deployment summarizes where a tenant's services run.
type Deployment struct {
	Tenant      string            `json:"tenant_id"`
	Mode        string            `json:"deployment_type"`
	Services    map[string]string `json:"services"`
	Local       int               `json:"local_services"`
	Remote      int               `json:"remote_services"`
	ServiceList []string          `json:"service_names"`
}

// DeploymentInfo reports localhost, distributed, mixed or empty.
func (r *ServiceRegistry) DeploymentInfo(tenant string) Deployment {
	info := Deployment{Tenant: tenant, Services: make(map[string]string)}
	for _, svc := range r.Snapshot(tenant).Services() {
		info.Services[svc.Name] = svc.BaseURL
		info.ServiceList = append(info.ServiceList, svc.Name)
		if isLocalURL(svc.BaseURL) {
			info.Local++
		} else {
			info.Remote++
		}
	}
	switch {
	case info.Local == 0 && info.Remote == 0:
		info.Mode = "empty"
	case info.Remote == 0:
		info.Mode = "localhost"
	case info.Local == 0:
		info.Mode = "distributed"
	default:
		info.Mode = "mixed"
	}
	return info
}

func isLocalURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "0.0.0.0":
		return true
	}
	return false
}
