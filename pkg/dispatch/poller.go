package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/voxgate/pkg/extract"
	"github.com/kadirpekel/voxgate/pkg/httpclient"
	"github.com/kadirpekel/voxgate/pkg/job"
	"github.com/kadirpekel/voxgate/pkg/observability"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollWorkers  = 4
	DefaultPollMaxAge   = time.Hour
)

// Watch is an async job whose upstream status is polled.
type Watch struct {
	JobID    string
	TenantID string
	URL      string
	Timeout  time.Duration

	// Since is when polling started; Track sets it when zero.
	Since time.Time
}

// Poller advances tracked jobs from their upstream status endpoints. Each
// round issues one GET per watched job on a bounded worker pool; a failed
// GET is simply tried again next round. A job still open after the
// maximum watch age is failed and no longer polled.
type Poller struct {
	tracker  *job.Tracker
	client   *httpclient.Client
	interval time.Duration
	workers  int
	maxAge   time.Duration
	tracer   trace.Tracer
	logger   *slog.Logger

	mu      sync.Mutex
	watches map[string]Watch
}

type PollerOption func(*Poller)

func WithPollerHTTPClient(client *httpclient.Client) PollerOption {
	return func(p *Poller) {
		p.client = client
	}
}

func WithPollerLogger(logger *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = logger
	}
}

// WithPollerMaxAge bounds how long a job is polled. Zero keeps the default.
func WithPollerMaxAge(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.maxAge = d
		}
	}
}

func WithPollerTracer(t trace.Tracer) PollerOption {
	return func(p *Poller) {
		p.tracer = t
	}
}

func NewPoller(tracker *job.Tracker, interval time.Duration, workers int, opts ...PollerOption) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if workers <= 0 {
		workers = DefaultPollWorkers
	}
	p := &Poller{
		tracker:  tracker,
		interval: interval,
		workers:  workers,
		maxAge:   DefaultPollMaxAge,
		watches:  make(map[string]Watch),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = httpclient.New()
	}
	if p.tracer == nil {
		p.tracer = observability.Tracer()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Track starts polling w.URL for w.JobID.
func (p *Poller) Track(w Watch) {
	if w.Timeout <= 0 {
		w.Timeout = DefaultTimeout
	}
	if w.Since.IsZero() {
		w.Since = time.Now()
	}
	p.mu.Lock()
	p.watches[w.JobID] = w
	p.mu.Unlock()
}

// Tracked returns the number of jobs being polled.
func (p *Poller) Tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

func (p *Poller) untrack(id string) {
	p.mu.Lock()
	delete(p.watches, id)
	p.mu.Unlock()
}

// Run polls every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll runs one round over every watched job.
func (p *Poller) Poll(ctx context.Context) {
	p.mu.Lock()
	watches := make([]Watch, 0, len(p.watches))
	for _, w := range p.watches {
		watches = append(watches, w)
	}
	p.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, w := range watches {
		if time.Since(w.Since) > p.maxAge {
			p.expire(ctx, w)
			continue
		}
		g.Go(func() error {
			p.pollOne(gctx, w)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Poller) pollOne(ctx context.Context, w Watch) {
	ctx, span := p.tracer.Start(ctx, observability.SpanJobPoll, trace.WithAttributes(
		attribute.String(observability.AttrJobID, w.JobID),
		attribute.String(observability.AttrTenant, w.TenantID),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, w.Timeout)
	defer cancel()

	resp, err := p.client.Get(callCtx, w.URL)
	if err != nil {
		p.logger.Debug("Job status poll failed", "job_id", w.JobID, "url", w.URL, "error", err)
		return
	}

	next, result, errMsg, ok := parseJobStatus(resp.Body)
	if !ok {
		p.logger.Debug("Job status response carries no usable status", "job_id", w.JobID)
		return
	}

	j, err := p.tracker.Transition(ctx, w.JobID, next, result, errMsg)
	switch {
	case errors.Is(err, job.ErrNotFound), errors.Is(err, job.ErrTerminal):
		p.untrack(w.JobID)
	case err != nil:
		p.logger.Warn("Job status not applied", "job_id", w.JobID, "status", next, "error", err)
	case j != nil && j.Status.Terminal():
		p.untrack(w.JobID)
	}
}

func (p *Poller) expire(ctx context.Context, w Watch) {
	p.untrack(w.JobID)
	msg := "status polling expired after " + p.maxAge.String()
	_, err := p.tracker.Transition(ctx, w.JobID, job.StatusFailed, nil, msg)
	switch {
	case err == nil:
		p.logger.Warn("Job status polling expired", "job_id", w.JobID, "tenant", w.TenantID, "max_age", p.maxAge)
	case errors.Is(err, job.ErrNotFound), errors.Is(err, job.ErrTerminal):
	default:
		p.logger.Warn("Failed to expire job", "job_id", w.JobID, "error", err)
	}
}

// parseJobStatus reads {status, result, error} from an upstream status
// body. Common synonyms of the lifecycle states are accepted.
func parseJobStatus(body []byte) (status job.Status, result any, errMsg string, ok bool) {
	parsed, isJSON := extract.Decode(body)
	if !isJSON {
		return "", nil, "", false
	}
	raw, found := extract.Lookup(parsed, "status")
	if !found {
		return "", nil, "", false
	}

	switch strings.ToLower(extract.Stringify(raw)) {
	case "running", "started", "in_progress":
		status = job.StatusRunning
	case "processing":
		status = job.StatusProcessing
	case "completed", "complete", "done", "succeeded", "success":
		status = job.StatusCompleted
	case "failed", "error", "cancelled", "canceled":
		status = job.StatusFailed
	default:
		return "", nil, "", false
	}

	if v, found := extract.Lookup(parsed, "result"); found {
		result = v
	}
	for _, key := range []string{"error", "error_message"} {
		if v, found := extract.Lookup(parsed, key); found && v != nil {
			errMsg = extract.Stringify(v)
			break
		}
	}
	if status == job.StatusFailed && errMsg == "" {
		errMsg = "upstream reported failure"
	}
	return status, result, errMsg, true
}
