// Package interaction keeps an append-only log of dispatch outcomes for
// analytics. The dispatch path only writes to it.
package interaction

import (
	"context"
	"time"
)

// Outcome is the result class of a dispatch.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeDegraded Outcome = "degraded"
	OutcomeError    Outcome = "error"
)

// Record is one dispatch observation.
type Record struct {
	TenantID   string        `json:"tenant_id"`
	ToolName   string        `json:"tool_name"`
	Timestamp  time.Time     `json:"timestamp"`
	Outcome    Outcome       `json:"outcome"`
	Latency    time.Duration `json:"latency"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	JobID      string        `json:"job_id,omitempty"`
	Test       bool          `json:"test,omitempty"`
}

// Summary aggregates a tenant's records.
type Summary struct {
	TenantID     string            `json:"tenant_id"`
	Total        int64             `json:"total"`
	ByOutcome    map[Outcome]int64 `json:"by_outcome"`
	ByTool       map[string]int64  `json:"by_tool"`
	AvgLatencyMS float64           `json:"avg_latency_ms"`
}

func newSummary(tenant string) *Summary {
	return &Summary{TenantID: tenant, ByOutcome: make(map[Outcome]int64), ByTool: make(map[string]int64)}
}

// Sink stores records. Records are never updated; Prune is the only removal.
type Sink interface {
	Write(ctx context.Context, records []Record) error
	Recent(ctx context.Context, tenant string, limit int) ([]Record, error)
	Summary(ctx context.Context, tenant string) (*Summary, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
