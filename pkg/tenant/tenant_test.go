package tenant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xeipuuv/gojsonschema"

	"github.com/kadirpekel/voxgate/pkg/config/provider"
	"github.com/kadirpekel/voxgate/pkg/registry"
)

const acmeDoc = `
tenant: acme
variables:
  ACME_TOKEN: secret
services:
  - name: research
    url: https://api.acme.com/research
    timeout: 3s
tools:
  - name: search
    description: Search the research index
    parameters:
      type: object
      properties:
        q: { type: string, description: query }
        limit: { type: integer }
      required: [q]
    action:
      url: service://research/search
      headers: { Authorization: "Bearer ${ACME_TOKEN}" }
      json_body: { query: "{q}", limit: "{limit}" }
      response_path: result.summary
      timeout: 2s
  - name: start_research
    parameters:
      properties:
        topic: {}
    action:
      method: post
      url: service://research/start
      async: true
      status_url: service://research/job-status/{job_id}
`

func TestParseDocument(t *testing.T) {
	doc, err := ParseDocument([]byte(acmeDoc), "acme")
	require.NoError(t, err)

	assert.Equal(t, "acme", doc.Tenant)
	assert.Equal(t, "secret", doc.Variables["ACME_TOKEN"])
	require.Len(t, doc.Tools, 2)

	search := doc.Tools[0]
	assert.Equal(t, "POST", search.Action.Method, "a body implies POST")
	assert.Equal(t, 2*time.Second, search.Action.Timeout)
	assert.Equal(t, "Bearer ${ACME_TOKEN}", search.Action.Headers["Authorization"], "placeholders are kept")
	assert.Equal(t, []string{"q"}, search.Parameters.Required)
	assert.Equal(t, TypeInteger, search.Parameters.Properties["limit"].Type)

	async := doc.Tools[1]
	assert.Equal(t, "POST", async.Action.Method)
	assert.Equal(t, DefaultJobIDPath, async.Action.JobIDPath)
	assert.Equal(t, "start_research", async.Action.RequestType)
	assert.Equal(t, TypeString, async.Parameters.Properties["topic"].Type)

	services := doc.ServiceDefinitions()
	require.Len(t, services, 1)
	assert.True(t, services[0].Required)
	assert.Equal(t, 3*time.Second, services[0].Timeout)
}

func TestParseDocument_JSON(t *testing.T) {
	doc, err := ParseDocument([]byte(`{"tools":[{"name":"ping","action":{"url":"https://x.example.com/ping"}}]}`), "globex")
	require.NoError(t, err)
	assert.Equal(t, "globex", doc.Tenant)
	assert.Equal(t, "GET", doc.Tools[0].Action.Method)
}

func TestParseDocument_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "tenant mismatch", doc: "tenant: other\ntools: []"},
		{name: "missing url", doc: "tools: [{name: a, action: {method: GET}}]"},
		{name: "bad method", doc: "tools: [{name: a, action: {method: TRACE, url: http://x}}]"},
		{name: "duplicate tool", doc: "tools: [{name: a, action: {url: http://x}}, {name: a, action: {url: http://y}}]"},
		{name: "undeclared required", doc: "tools: [{name: a, parameters: {required: [q]}, action: {url: http://x}}]"},
		{name: "unknown parameter type", doc: "tools: [{name: a, parameters: {properties: {q: {type: date}}}, action: {url: http://x}}]"},
		{name: "status url without async", doc: "tools: [{name: a, action: {url: http://x, status_url: http://x/s}}]"},
		{name: "relative service url", doc: "services: [{name: s, url: /x}]\ntools: []"},
		{name: "not yaml or json", doc: "tools: [unclosed"},
		{name: "invalid schema keyword", doc: "tools: [{name: a, parameters: {properties: {q: {type: string, minLength: -1}}}, action: {url: http://x}}]"},
		{name: "service map entry not url or mapping", doc: "services: {s: [1]}\ntools: []"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDocument([]byte(tt.doc), "acme")
			assert.Error(t, err)
		})
	}
}

func TestParseDocument_ServiceMap(t *testing.T) {
	doc, err := ParseDocument([]byte(`
services:
  research: https://research.example.com
  billing:
    url: https://billing.example.com
    health_path: /ping
tools: []
`), "acme")
	require.NoError(t, err)

	svcs := doc.ServiceDefinitions()
	require.Len(t, svcs, 2)
	assert.Equal(t, "billing", svcs[0].Name)
	assert.Equal(t, "/ping", svcs[0].HealthPath)
	assert.Equal(t, "research", svcs[1].Name)
	assert.Equal(t, "https://research.example.com", svcs[1].BaseURL)
}

func TestParseDocument_KeepsFullParameterSchema(t *testing.T) {
	doc, err := ParseDocument([]byte(`
tools:
  - name: a
    parameters:
      properties:
        q: {type: string, maxLength: 2}
    action: {url: http://x}
`), "acme")
	require.NoError(t, err)

	schema, err := doc.Tools[0].Schema()
	require.NoError(t, err)
	result, err := schema.Validate(gojsonschema.NewGoLoader(map[string]any{"q": "long"}))
	require.NoError(t, err)
	assert.False(t, result.Valid())
}

func TestCatalog_PublishIsVersioned(t *testing.T) {
	c := NewCatalog()
	doc, err := ParseDocument([]byte(acmeDoc), "acme")
	require.NoError(t, err)

	first := c.Publish(doc)
	second := c.Publish(doc)
	assert.Greater(t, second.Version, first.Version)

	current, ok := c.ToolSet("acme")
	require.True(t, ok)
	assert.Same(t, second, current)
	assert.Equal(t, []string{"search", "start_research"}, []string{current.List()[0].Name, current.List()[1].Name})

	// The published set does not alias the document.
	doc.Tools[0].Action.URL = "mutated"
	tool, _ := current.Tool("search")
	assert.Equal(t, "service://research/search", tool.Action.URL)

	c.Remove("acme")
	_, ok = c.ToolSet("acme")
	assert.False(t, ok)
}

func writeDoc(t *testing.T, dir, tenant, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, tenant+".yaml"), []byte(content), 0o644))
}

func TestManager_LoadAndReload(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "acme", acmeDoc)
	writeDoc(t, dir, "broken", "tools: [{name: a}]")

	p, err := provider.NewDirProvider(dir)
	require.NoError(t, err)
	reg := registry.New()
	m := NewManager(p, reg)
	ctx := context.Background()

	err = m.LoadAll(ctx)
	require.Error(t, err, "broken document is reported")

	set, ok := m.Catalog().ToolSet("acme")
	require.True(t, ok)
	assert.Equal(t, 2, set.Len())
	url, err := reg.Resolve("acme", "research")
	require.NoError(t, err)
	assert.Equal(t, "https://api.acme.com/research", url)
	_, ok = m.Catalog().ToolSet("broken")
	assert.False(t, ok)

	// A broken edit keeps the previous version.
	writeDoc(t, dir, "acme", "tools: [{name: x}]")
	_, err = m.Reload(ctx, "acme")
	require.Error(t, err)
	current, _ := m.Catalog().ToolSet("acme")
	assert.Same(t, set, current)

	// Removing the document unloads the tenant.
	require.NoError(t, os.Remove(filepath.Join(dir, "acme.yaml")))
	_, err = m.Reload(ctx, "acme")
	assert.True(t, errors.Is(err, provider.ErrDocumentNotFound))
	_, ok = m.Catalog().ToolSet("acme")
	assert.False(t, ok)
	_, err = reg.Resolve("acme", "research")
	assert.Error(t, err)
}

func TestManager_Watch(t *testing.T) {
	dir := t.TempDir()
	p, err := provider.NewDirProvider(dir)
	require.NoError(t, err)
	defer p.Close()

	m := NewManager(p, registry.New())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeDoc(t, dir, "acme", acmeDoc)

	require.Eventually(t, func() bool {
		_, ok := m.Catalog().ToolSet("acme")
		return ok
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}
}
