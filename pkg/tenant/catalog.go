package tenant

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/voxgate/pkg/registry"
)

// ToolSet is an immutable, versioned view of one tenant's tools.
type ToolSet struct {
	Tenant   string
	Version  uint64
	LoadedAt time.Time

	tools map[string]*ToolDefinition
	names []string
}

// Tool returns the tool named name.
func (s *ToolSet) Tool(name string) (*ToolDefinition, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// List returns the tools ordered by name.
func (s *ToolSet) List() []*ToolDefinition {
	out := make([]*ToolDefinition, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.tools[name])
	}
	return out
}

// Len returns the number of tools.
func (s *ToolSet) Len() int {
	return len(s.names)
}

// Catalog publishes tool sets per tenant. A dispatch reads exactly one
// ToolSet, so it never sees definitions from two document versions.
type Catalog struct {
	sets    *registry.CopyOnWrite[*ToolSet]
	version atomic.Uint64
}

func NewCatalog() *Catalog {
	return &Catalog{sets: registry.NewCopyOnWrite[*ToolSet]()}
}

// Publish builds a ToolSet from doc and swaps it in.
func (c *Catalog) Publish(doc *Document) *ToolSet {
	set := &ToolSet{
		Tenant:   doc.Tenant,
		Version:  c.version.Add(1),
		LoadedAt: time.Now().UTC(),
		tools:    make(map[string]*ToolDefinition, len(doc.Tools)),
	}
	for _, tool := range doc.Tools {
		cp := *tool
		set.tools[cp.Name] = &cp
		set.names = append(set.names, cp.Name)
	}
	sort.Strings(set.names)

	c.sets.Put(doc.Tenant, set)
	return set
}

// Remove drops a tenant's tools.
func (c *Catalog) Remove(tenant string) {
	_ = c.sets.Remove(tenant)
}

// ToolSet returns the current tools of tenant.
func (c *Catalog) ToolSet(tenant string) (*ToolSet, bool) {
	return c.sets.Get(tenant)
}

// Tenants returns tenants with a published tool set.
func (c *Catalog) Tenants() []string {
	return c.sets.Names()
}
