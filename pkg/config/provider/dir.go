package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// documentExts are tried in order when loading a tenant document.
var documentExts = []string{".yaml", ".yml", ".json"}

var tenantNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ErrDocumentNotFound is returned when a tenant has no document.
var ErrDocumentNotFound = errors.New("tenant document not found")

// ValidTenantName reports whether name can be used as a tenant id and as a
// document file name.
func ValidTenantName(name string) bool {
	return tenantNamePattern.MatchString(name) && !strings.Contains(name, "..")
}

// DirProvider serves one document per tenant from a directory and reports
// which tenants changed.
type DirProvider struct {
	dir string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	closed  bool
}

// NewDirProvider creates a provider over dir.
func NewDirProvider(dir string) (*DirProvider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenants dir: %w", err)
	}
	return &DirProvider{dir: abs}, nil
}

// Dir returns the absolute directory path.
func (p *DirProvider) Dir() string {
	return p.dir
}

// List returns the tenants that have a document, sorted.
func (p *DirProvider) List() ([]string, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tenants dir %s: %w", p.dir, err)
	}

	seen := make(map[string]bool)
	var tenants []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name, ok := tenantFromFile(e.Name())
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		tenants = append(tenants, name)
	}
	sort.Strings(tenants)
	return tenants, nil
}

// Load reads the document of tenant.
func (p *DirProvider) Load(ctx context.Context, tenant string) ([]byte, error) {
	if !ValidTenantName(tenant) {
		return nil, fmt.Errorf("invalid tenant name %q", tenant)
	}
	for _, ext := range documentExts {
		data, err := os.ReadFile(filepath.Join(p.dir, tenant+ext))
		if err == nil {
			return data, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read document of %s: %w", tenant, err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, tenant)
}

// Watch emits the tenant name whenever its document is written, created or
// removed. The channel is closed when ctx is cancelled.
func (p *DirProvider) Watch(ctx context.Context) (<-chan string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("provider is closed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create tenants watcher: %w", err)
	}
	if err := watcher.Add(p.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch tenants dir %s: %w", p.dir, err)
	}
	p.watcher = watcher

	out := make(chan string, 16)
	fired := make(chan string)
	done := make(chan struct{})
	deb := newDebouncer(debounceDelay)

	go func() {
		defer close(out)
		defer close(done)
		defer deb.stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				tenant, ok := tenantFromFile(filepath.Base(event.Name))
				if !ok {
					continue
				}
				deb.trigger(done, tenant, fired)
			case tenant := <-fired:
				select {
				case out <- tenant:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Tenants watcher error", "error", err)
			}
		}
	}()

	slog.Info("Watching tenant documents", "dir", p.dir)
	return out, nil
}

// Close stops watching.
func (p *DirProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}
	return nil
}

func tenantFromFile(file string) (string, bool) {
	ext := filepath.Ext(file)
	for _, known := range documentExts {
		if ext == known {
			name := strings.TrimSuffix(file, ext)
			return name, ValidTenantName(name)
		}
	}
	return "", false
}
