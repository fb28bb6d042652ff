// Package registry holds tenant service configuration and resolves tool
// action URLs against it.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Registry is a named collection of items.
type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	List() []T
	Remove(name string) error
	Count() int
	Clear()
}

// CopyOnWrite is a Registry whose reads never lock. Every write clones the
// current map, applies the change and publishes the clone with an atomic
// pointer swap, so readers always observe one complete version.
type CopyOnWrite[T any] struct {
	mu    sync.Mutex
	items atomic.Pointer[map[string]T]
}

// NewCopyOnWrite creates an empty registry.
func NewCopyOnWrite[T any]() *CopyOnWrite[T] {
	r := &CopyOnWrite[T]{}
	empty := make(map[string]T)
	r.items.Store(&empty)
	return r
}

func (r *CopyOnWrite[T]) load() map[string]T {
	return *r.items.Load()
}

// Get returns the item registered under name.
func (r *CopyOnWrite[T]) Get(name string) (T, bool) {
	item, ok := r.load()[name]
	return item, ok
}

// Names returns the registered names, sorted.
func (r *CopyOnWrite[T]) Names() []string {
	items := r.load()
	names := make([]string, 0, len(items))
	for name := range items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the items ordered by name.
func (r *CopyOnWrite[T]) List() []T {
	items := r.load()
	out := make([]T, 0, len(items))
	for _, name := range r.Names() {
		if item, ok := items[name]; ok {
			out = append(out, item)
		}
	}
	return out
}

// Count returns the number of items.
func (r *CopyOnWrite[T]) Count() int {
	return len(r.load())
}

// Update clones the current map, lets fn mutate the clone and publishes it.
// Nothing is published when fn returns an error.
func (r *CopyOnWrite[T]) Update(fn func(items map[string]T) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.load()
	next := make(map[string]T, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	r.items.Store(&next)
	return nil
}

// Register adds an item; the name must be unused.
func (r *CopyOnWrite[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	return r.Update(func(items map[string]T) error {
		if _, exists := items[name]; exists {
			return fmt.Errorf("item with name '%s' already registered", name)
		}
		items[name] = item
		return nil
	})
}

// Put adds or replaces an item.
func (r *CopyOnWrite[T]) Put(name string, item T) {
	_ = r.Update(func(items map[string]T) error {
		items[name] = item
		return nil
	})
}

// Remove deletes an item.
func (r *CopyOnWrite[T]) Remove(name string) error {
	return r.Update(func(items map[string]T) error {
		if _, exists := items[name]; !exists {
			return fmt.Errorf("item '%s' not found", name)
		}
		delete(items, name)
		return nil
	})
}

// Replace publishes items as the new content. The caller must not mutate
// items afterwards.
func (r *CopyOnWrite[T]) Replace(items map[string]T) {
	if items == nil {
		items = make(map[string]T)
	}
	r.mu.Lock()
	r.items.Store(&items)
	r.mu.Unlock()
}

// Clear removes every item.
func (r *CopyOnWrite[T]) Clear() {
	r.Replace(nil)
}

var _ Registry[int] = (*CopyOnWrite[int])(nil)
