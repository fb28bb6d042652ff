package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/voxgate/pkg/observability"
)

// Tracker is the job lifecycle API used by the dispatcher, the poller and
// the HTTP handlers.
type Tracker struct {
	store   Store
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Tracker)

func WithMetrics(m *observability.Metrics) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// CreateRequest describes a new job. ID is generated when empty.
type CreateRequest struct {
	ID          string
	TenantID    string
	RequestType string
	Input       map[string]any
}

// Create inserts a job in the created state.
func (t *Tracker) Create(ctx context.Context, req CreateRequest) (*Job, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := t.now().UTC()
	j := &Job{
		ID:          req.ID,
		TenantID:    req.TenantID,
		RequestType: req.RequestType,
		Status:      StatusCreated,
		Input:       req.Input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.Create(ctx, j); err != nil {
		return nil, err
	}

	t.metrics.RecordJobTransition(ctx, j.RequestType, string(j.Status))
	t.logger.Debug("Job created", "job_id", j.ID, "tenant", j.TenantID, "request_type", j.RequestType)
	return j, nil
}

// Transition moves a job forward. Rejected moves out of a terminal state are
// logged and returned as ErrTerminal; repeating the current state is a
// silent no-op.
func (t *Tracker) Transition(ctx context.Context, id string, next Status, result any, errMsg string) (*Job, error) {
	j, change, err := t.store.Transition(ctx, id, Update{Status: next, Result: result, Error: errMsg, At: t.now().UTC()})
	if err != nil {
		if errors.Is(err, ErrTerminal) || errors.Is(err, ErrInvalidTransition) {
			t.logger.Warn("Job transition rejected", "job_id", id, "to", next, "error", err)
		}
		return j, err
	}
	if change == Apply {
		t.metrics.RecordJobTransition(ctx, j.RequestType, string(j.Status))
		t.logger.Info("Job transitioned", "job_id", id, "status", j.Status, "request_type", j.RequestType)
	}
	return j, nil
}

// Get returns one job.
func (t *Tracker) Get(ctx context.Context, id string) (*Job, error) {
	return t.store.Get(ctx, id)
}

// Search returns a page of jobs, newest first.
func (t *Tracker) Search(ctx context.Context, f Filter) (*Page, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, fmt.Errorf("limit and offset must be non-negative")
	}
	return t.store.Search(ctx, f)
}

// Active lists non-terminal jobs.
func (t *Tracker) Active(ctx context.Context, tenantID string) ([]*Job, error) {
	page, err := t.store.Search(ctx, Filter{TenantID: tenantID, Active: true})
	if err != nil {
		return nil, err
	}
	return page.Jobs, nil
}

// CountActive returns the number of non-terminal jobs.
func (t *Tracker) CountActive(ctx context.Context) (int, error) {
	page, err := t.store.Search(ctx, Filter{Active: true, Limit: 1})
	if err != nil {
		return 0, err
	}
	return page.Total, nil
}

// Delete removes a terminal job. Active jobs yield ErrActive.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	if err := t.store.Delete(ctx, id); err != nil {
		return err
	}
	t.logger.Info("Job deleted", "job_id", id)
	return nil
}

// Cleanup deletes terminal jobs last updated more than olderThan ago.
func (t *Tracker) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := t.now().UTC().Add(-olderThan)
	n, err := t.store.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	t.metrics.RecordJobsCleaned(ctx, n)
	t.logger.Info("Job cleanup finished", "deleted", n, "cutoff", cutoff)
	return n, nil
}

// RunCleanup calls Cleanup every interval until ctx is cancelled.
func (t *Tracker) RunCleanup(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 || olderThan <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.Cleanup(ctx, olderThan); err != nil {
				t.logger.Error("Job cleanup failed", "error", err)
			}
		}
	}
}

// Analytics is the aggregate view served by the analytics endpoint.
type Analytics struct {
	TotalJobs                 int64            `json:"total_jobs"`
	ActiveJobs                int64            `json:"active_jobs"`
	Recent24h                 int64            `json:"recent_24h"`
	ByStatus                  map[Status]int64 `json:"by_status"`
	ByRequestType             map[string]int64 `json:"by_request_type"`
	SuccessRate               float64          `json:"success_rate"`
	AvgTerminalLatencySeconds float64          `json:"avg_terminal_latency_seconds"`
}

// Analytics aggregates every job. Success rate is completed over finished
// jobs and zero when nothing has finished.
func (t *Tracker) Analytics(ctx context.Context) (*Analytics, error) {
	stats, err := t.store.Stats(ctx, t.now().UTC().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	a := &Analytics{
		TotalJobs:                 stats.Total,
		Recent24h:                 stats.Recent,
		ByStatus:                  stats.ByStatus,
		ByRequestType:             stats.ByRequestType,
		AvgTerminalLatencySeconds: stats.AvgTerminalLatencyMS / 1000,
	}
	for _, s := range ActiveStatuses() {
		a.ActiveJobs += stats.ByStatus[s]
	}
	completed, failed := stats.ByStatus[StatusCompleted], stats.ByStatus[StatusFailed]
	if finished := completed + failed; finished > 0 {
		a.SuccessRate = float64(completed) / float64(finished)
	}
	return a, nil
}

// Close releases the store.
func (t *Tracker) Close() error {
	return t.store.Close()
}
