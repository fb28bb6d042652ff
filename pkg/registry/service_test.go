package registry

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/voxgate/pkg/config"
	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

func newAcmeRegistry(t *testing.T) *ServiceRegistry {
	t.Helper()
	r := New(WithEnvironment(config.Environment{"SEARCH_HOST": "https://env.example.com", "REGION": "eu"}))
	require.NoError(t, r.Reload("acme", []*Service{
		{Name: "research", BaseURL: "https://api.acme.com/research"},
	}, map[string]string{"SEARCH_HOST": "https://search.acme.com"}))
	return r
}

func TestResolveURL(t *testing.T) {
	r := newAcmeRegistry(t)
	snap := r.Snapshot("acme")

	tests := []struct {
		name       string
		raw        string
		hint       string
		wantURL    string
		wantSource ResolutionSource
		wantKind   toolerr.Kind
	}{
		{
			name:       "service reference",
			raw:        "service://research/search",
			wantURL:    "https://api.acme.com/research/search",
			wantSource: FromService,
		},
		{
			name:       "absolute url beats service hint",
			raw:        "https://other.example.com/search",
			hint:       "research",
			wantURL:    "https://other.example.com/search",
			wantSource: FromAbsolute,
		},
		{
			name:       "service hint with relative path",
			raw:        "/search",
			hint:       "research",
			wantURL:    "https://api.acme.com/research/search",
			wantSource: FromService,
		},
		{
			name:       "service reference without path",
			raw:        "service://research",
			wantURL:    "https://api.acme.com/research",
			wantSource: FromService,
		},
		{
			name:     "unknown service",
			raw:      "service://billing/charge",
			wantKind: toolerr.KindConfiguration,
		},
		{
			name:       "tenant variable shadows environment",
			raw:        "${SEARCH_HOST}/v1/${REGION}",
			wantURL:    "https://search.acme.com/v1/eu",
			wantSource: FromVariable,
		},
		{
			name:     "unresolved variable",
			raw:      "${MISSING}/x",
			wantKind: toolerr.KindConfiguration,
		},
		{
			name:       "literal",
			raw:        "relative/path",
			wantURL:    "relative/path",
			wantSource: FromLiteral,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := snap.ResolveURL(tt.raw, tt.hint)
			if tt.wantKind != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, toolerr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, target.URL)
			assert.Equal(t, tt.wantSource, target.Source)
		})
	}
}

func TestResolve_UnknownServiceMessage(t *testing.T) {
	r := newAcmeRegistry(t)

	_, err := r.Resolve("acme", "billing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service not configured: billing")
	assert.True(t, toolerr.Is(err, toolerr.KindConfiguration))
}

func TestResolve_DeterministicBetweenReloads(t *testing.T) {
	r := newAcmeRegistry(t)

	first, err := r.Resolve("acme", "research")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		got, err := r.Resolve("acme", "research")
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}

	require.NoError(t, r.Reload("acme", []*Service{{Name: "research", BaseURL: "https://v2.acme.com"}}, nil))
	got, err := r.Resolve("acme", "research")
	require.NoError(t, err)
	assert.Equal(t, "https://v2.acme.com", got)
}

func TestReload_KeepsOldSnapshotOnError(t *testing.T) {
	r := newAcmeRegistry(t)
	before := r.Snapshot("acme")

	err := r.Reload("acme", []*Service{
		{Name: "research", BaseURL: "https://ok.example.com"},
		{Name: "research", BaseURL: "https://dup.example.com"},
		{Name: "bad", BaseURL: "ftp://nope"},
	}, nil)
	require.Error(t, err)
	assert.Same(t, before, r.Snapshot("acme"))
}

func TestRegisteredLayerWins(t *testing.T) {
	r := newAcmeRegistry(t)
	ctx := context.Background()

	svc, err := r.Register(ctx, &Service{Tenant: "acme", Name: "research", BaseURL: "http://localhost:8082"})
	require.NoError(t, err)
	assert.Equal(t, DefaultHealthPath, svc.HealthPath)
	assert.Equal(t, DefaultTimeout, svc.Timeout)

	url, err := r.Resolve("acme", "research")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8082", url)

	require.NoError(t, r.Unregister(ctx, "acme", "research"))
	url, err = r.Resolve("acme", "research")
	require.NoError(t, err)
	assert.Equal(t, "https://api.acme.com/research", url)

	assert.ErrorIs(t, r.Unregister(ctx, "acme", "research"), ErrDeclaredService)
	assert.ErrorIs(t, r.Unregister(ctx, "acme", "billing"), ErrServiceNotFound)
}

func TestEnvironmentServices(t *testing.T) {
	r := New(WithEnvironment(config.Environment{
		"RESEARCH_SERVICE_URL": "https://r.test",
		"BILLING_SERVICE_URL":  "https://env-billing.test",
		"LEDGER_SERVICE_URL":   "ftp://ledger.test",
		"_SERVICE_URL":         "https://nameless.test",
		"OTHER_URL":            "https://other.test",
	}))
	ctx := context.Background()

	// No tenant state at all: the environment layer still resolves.
	target, err := r.Snapshot("acme").ResolveURL("service://research/search", "")
	require.NoError(t, err)
	assert.Equal(t, "https://r.test/search", target.URL)
	assert.Equal(t, SourceEnvironment, target.Service.Source)
	assert.Equal(t, "acme", target.Service.Tenant)

	names := func(tenant string) []string {
		var out []string
		for _, svc := range r.Snapshot(tenant).Services() {
			out = append(out, svc.Name)
		}
		return out
	}
	assert.Equal(t, []string{"billing", "research"}, names("acme"), "invalid and nameless entries are skipped")

	tests := []struct {
		name  string
		setup func(t *testing.T)
		want  string
		src   Source
	}{
		{name: "environment", setup: func(t *testing.T) {}, want: "https://env-billing.test", src: SourceEnvironment},
		{name: "declared over environment", setup: func(t *testing.T) {
			require.NoError(t, r.Reload("acme", []*Service{{Name: "billing", BaseURL: "https://doc-billing.test"}}, nil))
		}, want: "https://doc-billing.test", src: SourceDeclared},
		{name: "registered over declared", setup: func(t *testing.T) {
			_, err := r.Register(ctx, &Service{Tenant: "acme", Name: "billing", BaseURL: "https://api-billing.test"})
			require.NoError(t, err)
		}, want: "https://api-billing.test", src: SourceRegistered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup(t)
			svc, ok := r.Snapshot("acme").Service("billing")
			require.True(t, ok)
			assert.Equal(t, tt.want, svc.BaseURL)
			assert.Equal(t, tt.src, svc.Source)
		})
	}

	assert.ErrorIs(t, r.Unregister(ctx, "acme", "research"), ErrDeclaredService)
	require.NoError(t, r.Unregister(ctx, "acme", "billing"))
	url, err := r.Resolve("acme", "billing")
	require.NoError(t, err)
	assert.Equal(t, "https://doc-billing.test", url)

	r.RemoveTenant("acme")
	url, err = r.Resolve("acme", "billing")
	require.NoError(t, err)
	assert.Equal(t, "https://env-billing.test", url)
}

func TestRegister_Validation(t *testing.T) {
	r := New()
	ctx := context.Background()

	tests := []struct {
		name string
		svc  Service
	}{
		{name: "missing tenant", svc: Service{Name: "a", BaseURL: "http://a"}},
		{name: "missing name", svc: Service{Tenant: "t", BaseURL: "http://a"}},
		{name: "relative url", svc: Service{Tenant: "t", Name: "a", BaseURL: "/a"}},
		{name: "slash in name", svc: Service{Tenant: "t", Name: "a/b", BaseURL: "http://a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(ctx, &tt.svc)
			assert.Error(t, err)
		})
	}
}

func TestDeploymentInfo(t *testing.T) {
	r := New()
	assert.Equal(t, "empty", r.DeploymentInfo("acme").Mode)

	require.NoError(t, r.Reload("acme", []*Service{{Name: "a", BaseURL: "http://localhost:8082"}}, nil))
	assert.Equal(t, "localhost", r.DeploymentInfo("acme").Mode)

	require.NoError(t, r.Reload("acme", []*Service{
		{Name: "a", BaseURL: "http://localhost:8082"},
		{Name: "b", BaseURL: "https://b.example.com"},
	}, nil))
	info := r.DeploymentInfo("acme")
	assert.Equal(t, "mixed", info.Mode)
	assert.Equal(t, []string{"a", "b"}, info.ServiceList)

	require.NoError(t, r.Reload("acme", []*Service{{Name: "b", BaseURL: "https://b.example.com"}}, nil))
	assert.Equal(t, "distributed", r.DeploymentInfo("acme").Mode)
}

func TestHealthCheck(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok/health":
			w.WriteHeader(http.StatusOK)
		case "/slow/health":
			time.Sleep(200 * time.Millisecond)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer upstream.Close()

	closed := httptest.NewServer(http.NotFoundHandler())
	closedURL := closed.URL
	closed.Close()

	r := New()
	require.NoError(t, r.Reload("acme", []*Service{
		{Name: "ok", BaseURL: upstream.URL + "/ok"},
		{Name: "down", BaseURL: upstream.URL + "/down"},
		{Name: "slow", BaseURL: upstream.URL + "/slow", Timeout: 20 * time.Millisecond},
		{Name: "gone", BaseURL: closedURL},
	}, nil))

	tests := []struct {
		service string
		want    HealthStatus
	}{
		{service: "ok", want: Healthy},
		{service: "down", want: Unhealthy},
		{service: "slow", want: Unknown},
		{service: "gone", want: Unknown},
		{service: "missing", want: Unknown},
	}
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			res := r.HealthCheck(ctx, "acme", tt.service)
			assert.Equal(t, tt.want, res.Status)
			if tt.want != Healthy {
				assert.NotEmpty(t, res.Message)
			}
		})
	}

	last, ok := r.LastHealth("acme", "down")
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, last.StatusCode)
}

func TestHealthMonitor_Sweep(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	r := New()
	for _, tenant := range []string{"acme", "globex", "initech"} {
		require.NoError(t, r.Reload(tenant, []*Service{
			{Name: "a", BaseURL: upstream.URL},
			{Name: "b", BaseURL: upstream.URL},
		}, nil))
	}

	results := NewHealthMonitor(r, MonitorSettings{Interval: time.Minute, Workers: 2}, nil).Sweep(context.Background())
	require.Len(t, results, 6)
	for _, res := range results {
		assert.Equal(t, Healthy, res.Status, "%s/%s", res.Tenant, res.Service)
	}
}

func TestHealthMonitor_TimeoutCapsServiceTimeout(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	r := New()
	require.NoError(t, r.Reload("acme", []*Service{{Name: "slow", BaseURL: upstream.URL, Timeout: 10 * time.Second}}, nil))

	m := NewHealthMonitor(r, MonitorSettings{Interval: time.Minute, Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	results := m.Sweep(context.Background())
	require.Len(t, results, 1)
	assert.Equal(t, Unknown, results[0].Status)
	assert.Less(t, time.Since(start), time.Second)

	m.Update(MonitorSettings{Interval: time.Minute, Workers: 0})
	assert.Equal(t, 1, m.settings.Load().Workers)
}

func TestSQLStore(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()

	ctx := context.Background()
	store, err := NewSQLStore(ctx, db, "sqlite")
	require.NoError(t, err)

	r := New(WithStore(store))
	_, err = r.Register(ctx, &Service{Tenant: "acme", Name: "research", BaseURL: "https://api.acme.com/research", Timeout: 3 * time.Second, Required: true})
	require.NoError(t, err)
	_, err = r.Register(ctx, &Service{Tenant: "acme", Name: "research", BaseURL: "https://api2.acme.com/research", Timeout: 3 * time.Second})
	require.NoError(t, err)
	_, err = r.Register(ctx, &Service{Tenant: "globex", Name: "crm", BaseURL: "https://crm.globex.com"})
	require.NoError(t, err)

	services, err := store.List(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "https://api2.acme.com/research", services[0].BaseURL)
	assert.Equal(t, 3*time.Second, services[0].Timeout)
	assert.False(t, services[0].Required)

	// A fresh registry over the same store sees the persisted services.
	reloaded := New(WithStore(store))
	require.NoError(t, reloaded.LoadRegistered(ctx))
	url, err := reloaded.Resolve("globex", "crm")
	require.NoError(t, err)
	assert.Equal(t, "https://crm.globex.com", url)
	assert.Equal(t, []string{"acme", "globex"}, reloaded.Tenants())

	require.NoError(t, reloaded.Unregister(ctx, "globex", "crm"))
	services, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, services, 1)
}

func TestNewSQLStore_RejectsBadDialect(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = NewSQLStore(context.Background(), db, "oracle")
	assert.Error(t, err)
}
