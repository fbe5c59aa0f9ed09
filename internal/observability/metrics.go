// Package observability carries the runtime's Prometheus metrics and
// OpenTelemetry tracing setup.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central metric set for the agent runtime.
//
// It tracks message flow through the transport, provider request
// latency and token consumption, tool execution by side-effect class,
// scheduler fires, approval-gate outcomes, and stream cache behavior.
type Metrics struct {
	// MessageCounter tracks transport messages.
	// Labels: channel, direction (inbound|outbound)
	MessageCounter *prometheus.CounterVec

	// ProviderRequestDuration measures provider stream latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider requests.
	// Labels: provider, model, status (success|error|cancelled)
	ProviderRequestCounter *prometheus.CounterVec

	// ProviderTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	ProviderTokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, effect_class (read_only|mutating), status
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// SchedulerFires counts scheduled fires.
	// Labels: kind (cron|one_shot|subscription|location), status
	SchedulerFires *prometheus.CounterVec

	// ApprovalOutcomes counts approval-gate decisions.
	// Labels: tool_name, outcome (allowed|denied|timeout|blocked)
	ApprovalOutcomes *prometheus.CounterVec

	// StreamCacheOps counts response-cache lookups.
	// Labels: result (hit|miss)
	StreamCacheOps *prometheus.CounterVec

	// ActiveStreams is a gauge of currently registered SSE streams.
	ActiveStreams prometheus.Gauge

	// ActiveAgents is a gauge of currently deployed agents.
	ActiveAgents prometheus.Gauge

	// ErrorCounter tracks errors by component and kind.
	// Labels: component (engine|scheduler|streaming|transport|store), kind
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics registers the metric set on reg (nil uses the default
// registerer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		MessageCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_messages_total",
			Help: "Transport messages by channel and direction.",
		}, []string{"channel", "direction"}),

		ProviderRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_provider_request_duration_seconds",
			Help:    "Provider stream latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		ProviderRequestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_provider_requests_total",
			Help: "Provider requests by provider, model, and status.",
		}, []string{"provider", "model", "status"}),

		ProviderTokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_provider_tokens_total",
			Help: "Token consumption by provider, model, and type.",
		}, []string{"provider", "model", "type"}),

		ToolExecutionCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_executions_total",
			Help: "Tool invocations by name, effect class, and status.",
		}, []string{"tool_name", "effect_class", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentcore_tool_execution_duration_seconds",
			Help:    "Tool execution time.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name"}),

		SchedulerFires: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_scheduler_fires_total",
			Help: "Scheduled fires by kind and status.",
		}, []string{"kind", "status"}),

		ApprovalOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_approval_outcomes_total",
			Help: "Approval-gate decisions by tool and outcome.",
		}, []string{"tool_name", "outcome"}),

		StreamCacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_stream_cache_ops_total",
			Help: "Response-cache lookups by result.",
		}, []string{"result"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_active_streams",
			Help: "Currently registered SSE streams.",
		}),

		ActiveAgents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentcore_active_agents",
			Help: "Currently deployed agents.",
		}),

		ErrorCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_errors_total",
			Help: "Errors by component and kind.",
		}, []string{"component", "kind"}),
	}
}
