package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal      *prometheus.CounterVec
	tokensTotal        *prometheus.CounterVec
	costsTotal         *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	throttleTotal      *prometheus.CounterVec
	queueWaitTime      *prometheus.HistogramVec
	retriesTotal       *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
	toolExecutions     *prometheus.CounterVec
	toolDuration       *prometheus.HistogramVec
	roundsTotal        *prometheus.CounterVec
}

// NewPrometheusRecorder registers the metrics with reg, or the default registerer when nil.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_requests_total",
				Help: "Total number of completion requests by model, agent, state and status",
			},
			[]string{"model", "agent", "state", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_tokens_total",
				Help: "Total number of tokens used in completion requests",
			},
			[]string{"model", "agent", "type"},
		),
		costsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_costs_total",
				Help: "Total cost in USD for completion requests",
			},
			[]string{"model", "agent"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_request_duration_seconds",
				Help:    "Duration of completion requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "agent"},
		),
		throttleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_throttle_total",
				Help: "Total number of throttling events",
			},
			[]string{"model", "reason"},
		),
		queueWaitTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_queue_wait_duration_seconds",
				Help:    "Time spent waiting for rate limit availability",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model"},
		),
		retriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_retries_total",
				Help: "Total number of retries by dependency and error type",
			},
			[]string{"dependency", "error_type"},
		),
		breakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "resilience_circuit_state",
				Help: "Current circuit breaker state (1 for the active state label)",
			},
			[]string{"dependency", "state"},
		),
		breakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resilience_circuit_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"dependency", "from", "to"},
		),
		toolExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_tool_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		roundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_rounds_total",
				Help: "Total number of completed agent rounds",
			},
			[]string{"agent"},
		),
	}
}

func statusLabel(success bool) string {
	if success {
		return statusSuccess
	}
	return statusError
}

// ObserveRequest records metrics for a completed request. The run ID is not a label.
func (p *PrometheusRecorder) ObserveRequest(
	model, _, agent, state string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	p.requestsTotal.WithLabelValues(model, agent, state, statusLabel(success), errorType).Inc()

	// Tokens and costs only on success
	if success {
		p.tokensTotal.WithLabelValues(model, agent, "prompt").Add(float64(promptTokens))
		p.tokensTotal.WithLabelValues(model, agent, "completion").Add(float64(completionTokens))
		p.costsTotal.WithLabelValues(model, agent).Add(cost)
	}

	p.requestDuration.WithLabelValues(model, agent).Observe(duration.Seconds())
}

// IncThrottle increments the throttle counter for rate limiting events.
func (p *PrometheusRecorder) IncThrottle(model, reason string) {
	p.throttleTotal.WithLabelValues(model, reason).Inc()
}

// ObserveQueueWait records time spent waiting for rate limit availability.
func (p *PrometheusRecorder) ObserveQueueWait(model string, duration time.Duration) {
	p.queueWaitTime.WithLabelValues(model).Observe(duration.Seconds())
}

// IncRetry counts one retry.
func (p *PrometheusRecorder) IncRetry(dependency, errorType string) {
	p.retriesTotal.WithLabelValues(dependency, errorType).Inc()
}

// ObserveBreakerTransition updates the state gauge and counts the transition.
func (p *PrometheusRecorder) ObserveBreakerTransition(dependency, from, to string) {
	p.breakerState.WithLabelValues(dependency, from).Set(0)
	p.breakerState.WithLabelValues(dependency, to).Set(1)
	p.breakerTransitions.WithLabelValues(dependency, from, to).Inc()
}

// ObserveToolExecution records one tool execution.
func (p *PrometheusRecorder) ObserveToolExecution(tool string, success bool, duration time.Duration) {
	p.toolExecutions.WithLabelValues(tool, statusLabel(success)).Inc()
	p.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// ObserveRound records one completed agent round.
func (p *PrometheusRecorder) ObserveRound(agent string) {
	p.roundsTotal.WithLabelValues(agent).Inc()
}
