// Package dispatch executes tenant tool calls: it validates parameters,
// resolves the action URL, performs one HTTP request and normalizes the
// response.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	neturl "net/url"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/voxgate/pkg/extract"
	"github.com/kadirpekel/voxgate/pkg/httpclient"
	"github.com/kadirpekel/voxgate/pkg/interaction"
	"github.com/kadirpekel/voxgate/pkg/job"
	"github.com/kadirpekel/voxgate/pkg/observability"
	"github.com/kadirpekel/voxgate/pkg/registry"
	"github.com/kadirpekel/voxgate/pkg/tenant"
	"github.com/kadirpekel/voxgate/pkg/toolerr"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultRawSnippetBytes = 2048
)

// Configuration errors for lookups that miss wrap these.
var (
	ErrUnknownTenant = errors.New("unknown tenant")
	ErrUnknownTool   = errors.New("unknown tool")
)

// Status is the top-level result of a dispatch.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the normalized outcome of one tool call.
type Result struct {
	Status     Status              `json:"status"`
	Tool       string              `json:"tool"`
	Value      any                 `json:"value,omitempty"`
	Text       string              `json:"result,omitempty"`
	Strategy   extract.Strategy    `json:"strategy,omitempty"`
	Error      string              `json:"error,omitempty"`
	ErrorKind  toolerr.Kind        `json:"error_kind,omitempty"`
	Raw        string              `json:"raw_response,omitempty"`
	StatusCode int                 `json:"status_code,omitempty"`
	URL        string              `json:"url,omitempty"`
	JobID      string              `json:"job_id,omitempty"`
	ToolCallID string              `json:"tool_call_id,omitempty"`
	Outcome    interaction.Outcome `json:"outcome"`
	LatencyMS  int64               `json:"latency_ms"`

	Latency time.Duration `json:"-"`
	Err     error         `json:"-"`
}

// Dispatcher runs tool calls against the current tenant snapshots.
type Dispatcher struct {
	catalog      *tenant.Catalog
	registry     *registry.ServiceRegistry
	client       *httpclient.Client
	tracker      *job.Tracker
	poller       *Poller
	interactions *interaction.Logger
	metrics      *observability.Metrics
	tracer       trace.Tracer
	logger       *slog.Logger

	// Changed live by SetDefaults.
	defaultTimeout atomic.Int64
	rawSnippet     atomic.Int64
}

type Option func(*Dispatcher)

func WithHTTPClient(client *httpclient.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// WithTracker enables job tracking for async tools.
func WithTracker(tracker *job.Tracker) Option {
	return func(d *Dispatcher) {
		d.tracker = tracker
	}
}

// WithPoller hands async jobs with a status URL to p.
func WithPoller(p *Poller) Option {
	return func(d *Dispatcher) {
		d.poller = p
	}
}

func WithInteractions(l *interaction.Logger) Option {
	return func(d *Dispatcher) {
		d.interactions = l
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDefaultTimeout applies when neither the tool nor its service sets one.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.SetDefaults(timeout, 0)
	}
}

// WithRawSnippetBytes caps the raw response kept on results.
func WithRawSnippetBytes(n int) Option {
	return func(d *Dispatcher) {
		d.SetDefaults(0, n)
	}
}

func New(catalog *tenant.Catalog, reg *registry.ServiceRegistry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalog:  catalog,
		registry: reg,
	}
	d.SetDefaults(DefaultTimeout, DefaultRawSnippetBytes)
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = httpclient.New()
	}
	if d.tracer == nil {
		d.tracer = observability.Tracer()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Tools lists the tenant's tools.
func (d *Dispatcher) Tools(tenantID string) ([]*tenant.ToolDefinition, error) {
	set, ok := d.catalog.ToolSet(tenantID)
	if !ok {
		return nil, unknownTenant("", tenantID)
	}
	return set.List(), nil
}

// Dispatch runs one tool call. It always returns a result; failures are
// described by Status, ErrorKind and Err. The call is detached from ctx
// cancellation so that it completes and is recorded even when the caller
// goes away.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, toolName string, params map[string]any) *Result {
	return d.run(ctx, tenantID, toolName, params, false)
}

// Test runs a dispatch that is flagged as a test in the interaction log.
func (d *Dispatcher) Test(ctx context.Context, tenantID, toolName string, params map[string]any) *Result {
	return d.run(ctx, tenantID, toolName, params, true)
}

func (d *Dispatcher) run(ctx context.Context, tenantID, toolName string, params map[string]any, test bool) *Result {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	ctx, span := d.tracer.Start(ctx, observability.SpanDispatch, trace.WithAttributes(
		attribute.String(observability.AttrTenant, tenantID),
		attribute.String(observability.AttrTool, toolName),
	))
	defer span.End()

	if params == nil {
		params = map[string]any{}
	}
	res := &Result{Tool: toolName}
	d.execute(ctx, tenantID, toolName, params, res)
	res.Latency = time.Since(start)
	res.LatencyMS = res.Latency.Milliseconds()
	d.finish(ctx, span, tenantID, res, start, test)
	return res
}

func (d *Dispatcher) execute(ctx context.Context, tenantID, toolName string, params map[string]any, res *Result) {
	set, ok := d.catalog.ToolSet(tenantID)
	if !ok {
		d.fail(res, unknownTenant(toolName, tenantID))
		return
	}
	tool, ok := set.Tool(toolName)
	if !ok {
		d.fail(res, &toolerr.Error{
			Kind:    toolerr.KindConfiguration,
			Tool:    toolName,
			Message: fmt.Sprintf("not defined for tenant %s", tenantID),
			Err:     ErrUnknownTool,
		})
		return
	}

	if err := Validate(tool, params); err != nil {
		d.fail(res, err)
		return
	}

	snap := d.registry.Snapshot(tenantID)
	req, svc, err := d.build(ctx, snap, tool, params)
	if err != nil {
		d.fail(res, toolerr.WithTool(err, toolName))
		return
	}
	res.URL = req.URL.Redacted()

	timeout := d.timeout(tool, svc)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := d.call(callCtx, req, svc)
	if resp != nil {
		res.StatusCode = resp.StatusCode
		res.Raw = httpclient.Snippet(resp.Body, int(d.rawSnippet.Load()))
	}
	if err != nil {
		var (
			statusErr *httpclient.StatusError
			bodyErr   *httpclient.BodyError
		)
		switch {
		case errors.As(err, &statusErr):
			d.fail(res, toolerr.Upstream(toolName, statusErr.StatusCode, statusErr.Body))
			return
		case errors.As(err, &bodyErr):
			d.fail(res, toolerr.Upstream(toolName, bodyErr.StatusCode, "response body could not be read"))
			return
		}
		d.fail(res, toolerr.Network(toolName, err))
		return
	}

	res.Status = StatusOK
	res.Outcome = interaction.OutcomeOK
	extracted, err := extract.Extract(resp.Body, extract.Spec{
		ResponsePath:     tool.Action.ResponsePath,
		ResponseTemplate: tool.Action.ResponseTemplate,
		Params:           params,
	})
	if err != nil {
		text := httpclient.Snippet(bytes.TrimSpace(resp.Body), int(d.rawSnippet.Load()))
		res.Value = text
		res.Text = text
		res.Outcome = interaction.OutcomeDegraded
		res.ErrorKind = toolerr.KindOf(err)
		res.Err = toolerr.WithTool(err, toolName)
	} else {
		res.Value = extracted.Value
		res.Text = extracted.Text()
		res.Strategy = extracted.Strategy
	}

	if tool.Action.Async {
		d.startJob(ctx, snap, svc, tenantID, tool, params, resp.Body, res)
	}
}

// build resolves the action URL and assembles the request. The returned
// service is set when the URL was resolved through one.
func (d *Dispatcher) build(ctx context.Context, snap *registry.Snapshot, tool *tenant.ToolDefinition, params map[string]any) (*http.Request, *registry.Service, error) {
	action := tool.Action
	target, err := snap.ResolveURL(action.URL, action.Service)
	if err != nil {
		return nil, nil, err
	}

	b := newBinder(tool, params)
	rawURL := b.url(target.URL)
	parsed, err := neturl.Parse(rawURL)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, nil, toolerr.Configuration(tool.Name, "action url %q does not resolve to an http(s) URL", rawURL)
	}

	var body []byte
	if action.JSONBody != nil {
		body, err = json.Marshal(b.body(action.JSONBody))
		if err != nil {
			return nil, nil, toolerr.Configuration(tool.Name, "invalid json_body: %v", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, action.Method, parsed.String(), bytes.NewReader(body))
	if err != nil {
		return nil, nil, toolerr.Configuration(tool.Name, "failed to build request: %v", err)
	}
	if body == nil {
		req.Body = http.NoBody
		req.ContentLength = 0
	} else {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	for name, value := range action.Headers {
		expanded, err := snap.ExpandVariables(value)
		if err != nil {
			return nil, nil, err
		}
		req.Header.Set(name, b.text(expanded))
	}
	return req, target.Service, nil
}

// timeout picks the tool timeout, then the owning service's, then the
// default.
func (d *Dispatcher) timeout(tool *tenant.ToolDefinition, svc *registry.Service) time.Duration {
	if tool.Action.Timeout > 0 {
		return tool.Action.Timeout
	}
	if svc != nil && svc.Timeout > 0 {
		return svc.Timeout
	}
	return time.Duration(d.defaultTimeout.Load())
}

// SetDefaults changes the default timeout and the raw snippet size for
// dispatches that start afterwards. Non-positive values are ignored.
func (d *Dispatcher) SetDefaults(timeout time.Duration, rawSnippet int) {
	if timeout > 0 {
		d.defaultTimeout.Store(int64(timeout))
	}
	if rawSnippet > 0 {
		d.rawSnippet.Store(int64(rawSnippet))
	}
}

func (d *Dispatcher) call(ctx context.Context, req *http.Request, svc *registry.Service) (*httpclient.Response, error) {
	ctx, span := d.tracer.Start(ctx, observability.SpanUpstream, trace.WithAttributes(
		attribute.String(observability.AttrHTTPMethod, req.Method),
		attribute.String(observability.AttrUpstreamURL, req.URL.Redacted()),
	))
	defer span.End()
	if svc != nil {
		span.SetAttributes(attribute.String(observability.AttrService, svc.Name))
	}

	resp, err := d.client.Do(req.WithContext(ctx))
	if resp != nil {
		span.SetAttributes(attribute.Int(observability.AttrHTTPStatus, resp.StatusCode))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}

func (d *Dispatcher) startJob(ctx context.Context, snap *registry.Snapshot, svc *registry.Service, tenantID string, tool *tenant.ToolDefinition, params map[string]any, body []byte, res *Result) {
	if d.tracker == nil {
		d.logger.Warn("Async tool dispatched without a job tracker", "tenant", tenantID, "tool", tool.Name)
		return
	}

	var jobID string
	if parsed, ok := extract.Decode(body); ok {
		if v, found := extract.Lookup(parsed, tool.Action.JobIDPath); found && v != nil {
			jobID = extract.Stringify(v)
		}
	}

	j, err := d.tracker.Create(ctx, job.CreateRequest{
		ID:          jobID,
		TenantID:    tenantID,
		RequestType: tool.Action.RequestType,
		Input:       params,
	})
	if err != nil {
		d.logger.Error("Failed to create job", "tenant", tenantID, "tool", tool.Name, "job_id", jobID, "error", err)
		res.JobID = jobID
		return
	}
	res.JobID = j.ID

	if _, err := d.tracker.Transition(ctx, j.ID, job.StatusRunning, nil, ""); err != nil {
		d.logger.Error("Failed to start job", "job_id", j.ID, "error", err)
		return
	}

	if tool.Action.StatusURL == "" || d.poller == nil {
		return
	}
	statusURL, statusSvc, err := d.statusURL(snap, tool, params, j.ID)
	if err != nil {
		d.logger.Warn("Job status URL does not resolve", "job_id", j.ID, "tool", tool.Name, "error", err)
		return
	}
	if statusSvc == nil {
		statusSvc = svc
	}
	d.poller.Track(Watch{
		JobID:    j.ID,
		TenantID: tenantID,
		URL:      statusURL,
		Timeout:  d.timeout(tool, statusSvc),
	})
}

// statusURL resolves the job status URL and the service it points at, if
// any.
func (d *Dispatcher) statusURL(snap *registry.Snapshot, tool *tenant.ToolDefinition, params map[string]any, jobID string) (string, *registry.Service, error) {
	target, err := snap.ResolveURL(tool.Action.StatusURL, tool.Action.Service)
	if err != nil {
		return "", nil, err
	}
	withJob := make(map[string]any, len(params)+1)
	for k, v := range params {
		withJob[k] = v
	}
	withJob["job_id"] = jobID
	return newBinder(tool, withJob).url(target.URL), target.Service, nil
}

func unknownTenant(tool, tenantID string) error {
	return &toolerr.Error{
		Kind:    toolerr.KindConfiguration,
		Tool:    tool,
		Message: fmt.Sprintf("tenant not configured: %s", tenantID),
		Err:     ErrUnknownTenant,
	}
}

func (d *Dispatcher) fail(res *Result, err error) {
	res.Status = StatusError
	res.Outcome = interaction.OutcomeError
	res.Err = err
	res.ErrorKind = toolerr.KindOf(err)
	res.Error = err.Error()
}

func (d *Dispatcher) finish(ctx context.Context, span trace.Span, tenantID string, res *Result, start time.Time, test bool) {
	span.SetAttributes(
		attribute.String(observability.AttrOutcome, string(res.Outcome)),
		attribute.String(observability.AttrErrorKind, string(res.ErrorKind)),
	)
	if res.JobID != "" {
		span.SetAttributes(attribute.String(observability.AttrJobID, res.JobID))
	}
	if res.Status == StatusError {
		span.SetStatus(codes.Error, res.Error)
	}

	d.metrics.RecordDispatch(ctx, tenantID, res.Tool, string(res.Outcome), string(res.ErrorKind), res.Latency)
	if d.interactions != nil {
		d.interactions.Record(interaction.Record{
			TenantID:   tenantID,
			ToolName:   res.Tool,
			Timestamp:  start,
			Outcome:    res.Outcome,
			Latency:    res.Latency,
			ErrorKind:  string(res.ErrorKind),
			StatusCode: res.StatusCode,
			JobID:      res.JobID,
			Test:       test,
		})
	}

	attrs := []any{"tenant", tenantID, "tool", res.Tool, "outcome", res.Outcome, "latency", res.Latency}
	switch res.Outcome {
	case interaction.OutcomeOK:
		d.logger.Info("Tool dispatched", attrs...)
	case interaction.OutcomeDegraded:
		d.logger.Warn("Tool response degraded to raw text", append(attrs, "error", res.Err)...)
	default:
		d.logger.Warn("Tool dispatch failed", append(attrs, "error_kind", res.ErrorKind, "error", res.Err)...)
	}
}
