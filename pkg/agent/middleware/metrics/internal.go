package metrics

import (
	"sort"
	"sync"
	"time"
)

// RunMetrics holds the aggregated usage of one agent run.
type RunMetrics struct {
	LastUpdated      time.Time `json:"last_updated"`
	RunID            string    `json:"run_id"`
	Agent            string    `json:"agent"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TotalTokens      int64     `json:"total_tokens"`
	TotalCost        float64   `json:"total_cost_usd"`
	RequestCount     int64     `json:"request_count"`
	FailedRequests   int64     `json:"failed_requests"`
	ToolExecutions   int64     `json:"tool_executions"`
	Retries          int64     `json:"retries"`
}

// InternalRecorder keeps per-run metrics in memory so callers can report usage
// without querying Prometheus. Only run-scoped events are aggregated.
type InternalRecorder struct {
	runs map[string]*RunMetrics
	now  func() time.Time
	mu   sync.RWMutex
}

// NewInternalRecorder creates an empty in-memory recorder.
func NewInternalRecorder() *InternalRecorder {
	return &InternalRecorder{
		runs: make(map[string]*RunMetrics),
		now:  time.Now,
	}
}

func (r *InternalRecorder) runLocked(runID, agent string) *RunMetrics {
	run, ok := r.runs[runID]
	if !ok {
		run = &RunMetrics{RunID: runID, Agent: agent}
		r.runs[runID] = run
	}
	if run.Agent == "" {
		run.Agent = agent
	}
	run.LastUpdated = r.now()
	return run
}

// ObserveRequest aggregates a request into its run. Requests without a run ID are dropped.
func (r *InternalRecorder) ObserveRequest(
	_, runID, agent, _ string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	_ string,
	_ time.Duration,
) {
	if runID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.runLocked(runID, agent)
	run.RequestCount++
	if !success {
		run.FailedRequests++
		return
	}
	run.PromptTokens += int64(promptTokens)
	run.CompletionTokens += int64(completionTokens)
	run.TotalTokens += int64(promptTokens + completionTokens)
	run.TotalCost += cost
}

func (r *InternalRecorder) IncThrottle(_, _ string) {}

func (r *InternalRecorder) ObserveQueueWait(_ string, _ time.Duration) {}

func (r *InternalRecorder) IncRetry(_, _ string) {}

func (r *InternalRecorder) ObserveBreakerTransition(_, _, _ string) {}

func (r *InternalRecorder) ObserveToolExecution(_ string, _ bool, _ time.Duration) {}

func (r *InternalRecorder) ObserveRound(_ string) {}

// AddToolExecutions adds n tool executions to a run.
func (r *InternalRecorder) AddToolExecutions(runID string, n int) {
	if runID == "" || n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runLocked(runID, "").ToolExecutions += int64(n)
}

// AddRetries adds n retries to a run.
func (r *InternalRecorder) AddRetries(runID string, n int) {
	if runID == "" || n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runLocked(runID, "").Retries += int64(n)
}

// GetRunMetrics returns a copy of the metrics for runID, or nil.
func (r *InternalRecorder) GetRunMetrics(runID string) *RunMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if run, exists := r.runs[runID]; exists {
		cp := *run
		return &cp
	}
	return nil
}

// GetAllRunMetrics returns copies of all run metrics ordered by run ID.
func (r *InternalRecorder) GetAllRunMetrics() []RunMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]RunMetrics, 0, len(r.runs))
	for _, run := range r.runs {
		result = append(result, *run)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RunID < result[j].RunID })
	return result
}

// ClearRunMetrics removes metrics for a specific run.
func (r *InternalRecorder) ClearRunMetrics(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// Reset clears all metrics.
func (r *InternalRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = make(map[string]*RunMetrics)
}
