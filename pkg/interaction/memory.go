package interaction

import (
	"context"
	"sync"
	"time"
)

const DefaultMemoryCapacity = 10000

// MemorySink keeps the most recent records in a fixed-size ring.
type MemorySink struct {
	mu    sync.RWMutex
	ring  []Record
	next  int
	count int
}

func NewMemorySink(capacity int) *MemorySink {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemorySink{ring: make([]Record, capacity)}
}

func (m *MemorySink) Write(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.ring[m.next] = r
		m.next = (m.next + 1) % len(m.ring)
		if m.count < len(m.ring) {
			m.count++
		}
	}
	return nil
}

// each visits records newest first until fn returns false.
func (m *MemorySink) each(fn func(r Record) bool) {
	for i := 0; i < m.count; i++ {
		idx := (m.next - 1 - i + len(m.ring)) % len(m.ring)
		if !fn(m.ring[idx]) {
			return
		}
	}
}

func (m *MemorySink) Recent(_ context.Context, tenant string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Record{}
	m.each(func(r Record) bool {
		if r.TenantID == tenant {
			out = append(out, r)
		}
		return limit <= 0 || len(out) < limit
	})
	return out, nil
}

func (m *MemorySink) Summary(_ context.Context, tenant string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := newSummary(tenant)
	var latency time.Duration
	m.each(func(r Record) bool {
		if r.TenantID == tenant {
			s.Total++
			s.ByOutcome[r.Outcome]++
			s.ByTool[r.ToolName]++
			latency += r.Latency
		}
		return true
	})
	if s.Total > 0 {
		s.AvgLatencyMS = float64(latency.Milliseconds()) / float64(s.Total)
	}
	return s, nil
}

// Prune compacts the ring, keeping records at or after before.
func (m *MemorySink) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []Record
	m.each(func(r Record) bool {
		if !r.Timestamp.Before(before) {
			kept = append(kept, r)
		}
		return true
	})
	removed := int64(m.count - len(kept))

	fresh := make([]Record, len(m.ring))
	for i := range kept {
		// kept is newest first; the ring stores oldest first.
		fresh[i] = kept[len(kept)-1-i]
	}
	m.ring = fresh
	m.count = len(kept)
	m.next = len(kept) % len(m.ring)
	return removed, nil
}

func (m *MemorySink) Close() error {
	return nil
}

var _ Sink = (*MemorySink)(nil)
