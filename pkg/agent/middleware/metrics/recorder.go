// Package metrics provides metrics recording for completion calls, retries, breakers and agent runs.
package metrics

import (
	"context"
	"time"
)

// Scope identifies the agent run a call belongs to.
type Scope struct {
	RunID string
	Agent string
	State string
}

type scopeKey struct{}

// WithScope attaches scope to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx, or a zero Scope.
func ScopeFrom(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s
}

// Recorder defines the interface for recording metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed completion request.
	ObserveRequest(
		model, runID, agent, state string,
		promptTokens, completionTokens int,
		cost float64,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncThrottle increments the throttle counter for rate limiting events.
	IncThrottle(model, reason string)

	// ObserveQueueWait records time spent waiting for rate limit availability.
	ObserveQueueWait(model string, duration time.Duration)

	// IncRetry counts one retry of a call to dependency.
	IncRetry(dependency, errorType string)

	// ObserveBreakerTransition records a circuit breaker state change.
	ObserveBreakerTransition(dependency, from, to string)

	// ObserveToolExecution records one tool execution.
	ObserveToolExecution(tool string, success bool, duration time.Duration)

	// ObserveRound records one completed agent round.
	ObserveRound(agent string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveRequest(_, _, _, _ string, _, _ int, _ float64, _ bool, _ string, _ time.Duration) {
}

func (n *NoopRecorder) IncThrottle(_, _ string) {}

func (n *NoopRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

func (n *NoopRecorder) IncRetry(_, _ string) {}

func (n *NoopRecorder) ObserveBreakerTransition(_, _, _ string) {}

func (n *NoopRecorder) ObserveToolExecution(_ string, _ bool, _ time.Duration) {}

func (n *NoopRecorder) ObserveRound(_ string) {}

// multiRecorder fans out to several recorders.
type multiRecorder []Recorder

// Multi returns a Recorder that forwards to every non-nil recorder.
func Multi(recorders ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(recorders))
	for _, r := range recorders {
		if r != nil {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return Nop()
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiRecorder) ObserveRequest(model, runID, agent, state string, promptTokens, completionTokens int,
	cost float64, success bool, errorType string, duration time.Duration) {
	for _, r := range m {
		r.ObserveRequest(model, runID, agent, state, promptTokens, completionTokens, cost, success, errorType, duration)
	}
}

func (m multiRecorder) IncThrottle(model, reason string) {
	for _, r := range m {
		r.IncThrottle(model, reason)
	}
}

func (m multiRecorder) ObserveQueueWait(model string, duration time.Duration) {
	for _, r := range m {
		r.ObserveQueueWait(model, duration)
	}
}

func (m multiRecorder) IncRetry(dependency, errorType string) {
	for _, r := range m {
		r.IncRetry(dependency, errorType)
	}
}

func (m multiRecorder) ObserveBreakerTransition(dependency, from, to string) {
	for _, r := range m {
		r.ObserveBreakerTransition(dependency, from, to)
	}
}

func (m multiRecorder) ObserveToolExecution(tool string, success bool, duration time.Duration) {
	for _, r := range m {
		r.ObserveToolExecution(tool, success, duration)
	}
}

func (m multiRecorder) ObserveRound(agent string) {
	for _, r := range m {
		r.ObserveRound(agent)
	}
}
