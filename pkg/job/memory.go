package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps jobs in process memory. A single mutex makes every
// check-then-write atomic.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func clone(j *Job) *Job {
	cp := *j
	if j.Input != nil {
		cp.Input = make(map[string]any, len(j.Input))
		for k, v := range j.Input {
			cp.Input[k] = v
		}
	}
	return &cp
}

func (m *MemoryStore) Create(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.jobs[j.ID]; exists {
		return fmt.Errorf("%w: %s", ErrExists, j.ID)
	}
	m.jobs[j.ID] = clone(j)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(j), nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, u Update) (*Job, Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, Noop, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	change, err := CheckTransition(j.Status, u.Status)
	if err != nil || change == Noop {
		return clone(j), Noop, err
	}

	j.Status = u.Status
	if u.Result != nil {
		j.Result = u.Result
	}
	if u.Error != "" {
		j.ErrorMessage = u.Error
	}
	j.UpdatedAt = u.At
	return clone(j), Apply, nil
}

func matches(j *Job, f Filter, query string) bool {
	if f.TenantID != "" && j.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.RequestType != "" && j.RequestType != f.RequestType {
		return false
	}
	if f.Active && j.Status.Terminal() {
		return false
	}
	if query == "" {
		return true
	}
	for _, field := range []any{j.Input, j.Result} {
		if field == nil {
			continue
		}
		data, _ := json.Marshal(field)
		if string(data) == "null" {
			continue
		}
		if strings.Contains(strings.ToLower(string(data)), query) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(j.ErrorMessage), query)
}

func (m *MemoryStore) Search(_ context.Context, f Filter) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := strings.ToLower(f.Query)
	var all []*Job
	for _, j := range m.jobs {
		if matches(j, f, query) {
			all = append(all, j)
		}
	}
	sort.Slice(all, func(i, k int) bool {
		if !all[i].CreatedAt.Equal(all[k].CreatedAt) {
			return all[i].CreatedAt.After(all[k].CreatedAt)
		}
		return all[i].ID < all[k].ID
	})

	page := &Page{Total: len(all), Limit: f.Limit, Offset: f.Offset, Jobs: []*Job{}}
	start := min(f.Offset, len(all))
	end := len(all)
	if f.Limit > 0 {
		end = min(start+f.Limit, len(all))
	}
	for _, j := range all[start:end] {
		page.Jobs = append(page.Jobs, clone(j))
	}
	return page, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !j.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrActive, id, j.Status)
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryStore) Cleanup(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, j := range m.jobs {
		if j.Status.Terminal() && j.UpdatedAt.Before(before) {
			delete(m.jobs, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Stats(_ context.Context, since time.Time) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &Stats{ByStatus: make(map[Status]int64), ByRequestType: make(map[string]int64)}
	var latency time.Duration
	var terminal int64
	for _, j := range m.jobs {
		stats.Total++
		stats.ByStatus[j.Status]++
		stats.ByRequestType[j.RequestType]++
		if !j.CreatedAt.Before(since) {
			stats.Recent++
		}
		if j.Status.Terminal() {
			terminal++
			latency += j.UpdatedAt.Sub(j.CreatedAt)
		}
	}
	if terminal > 0 {
		stats.AvgTerminalLatencyMS = float64(latency.Milliseconds()) / float64(terminal)
	}
	return stats, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
