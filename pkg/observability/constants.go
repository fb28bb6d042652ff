package observability

const (
	AttrTenant       = "voxgate.tenant"
	AttrTool         = "voxgate.tool"
	AttrService      = "voxgate.service"
	AttrOutcome      = "voxgate.outcome"
	AttrErrorKind    = "voxgate.error_kind"
	AttrJobID        = "voxgate.job_id"
	AttrHTTPMethod   = "http.method"
	AttrHTTPRoute    = "http.route"
	AttrHTTPStatus   = "http.status_code"
	AttrUpstreamURL  = "url.full"
	AttrHealthStatus = "voxgate.health"

	SpanDispatch    = "voxgate.dispatch"
	SpanUpstream    = "voxgate.upstream_call"
	SpanHealthCheck = "voxgate.health_check"
	SpanJobPoll     = "voxgate.job_poll"
	SpanHTTPRequest = "http.request"

	DefaultServiceName  = "voxgate"
	InstrumentationName = "github.com/kadirpekel/voxgate"
)
