// Package metrics provides services for querying and aggregating exported metrics from Prometheus.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// AgentMetrics represents aggregated request metrics for one agent.
type AgentMetrics struct {
	Agent            string  `json:"agent"`
	Model            string  `json:"model,omitempty"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
	Requests         int64   `json:"requests"`
	FailedRequests   int64   `json:"failed_requests"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
	now      func() time.Time
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		queryAPI: v1.NewAPI(client),
		now:      time.Now,
	}, nil
}

// scalar runs an instant query and returns the first sample, or 0 for an empty result.
func (q *QueryService) scalar(ctx context.Context, query string) (float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", query, err)
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return float64(vector[0].Value), nil
	}
	return 0, nil
}

// labelValues returns the distinct values of label in the instant vector for query, sorted.
func (q *QueryService) labelValues(ctx context.Context, query string, label model.LabelName) ([]string, error) {
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", query, err)
	}
	var values []string
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			if v, ok := sample.Metric[label]; ok {
				values = append(values, string(v))
			}
		}
	}
	sort.Strings(values)
	return values, nil
}

// GetAgentMetrics retrieves aggregated token, cost and request counts for an agent
// across every model it called.
func (q *QueryService) GetAgentMetrics(ctx context.Context, agent string) (*AgentMetrics, error) {
	return q.collect(ctx, agent, fmt.Sprintf(`agent=%q`, agent))
}

// GetAgentMetricsByModel retrieves the same aggregates broken down by model.
func (q *QueryService) GetAgentMetricsByModel(ctx context.Context, agent string) (map[string]*AgentMetrics, error) {
	models, err := q.labelValues(ctx, fmt.Sprintf(`group by (model) (llm_requests_total{agent=%q})`, agent), "model")
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	result := make(map[string]*AgentMetrics, len(models))
	for _, modelName := range models {
		m, err := q.collect(ctx, agent, fmt.Sprintf(`agent=%q, model=%q`, agent, modelName))
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", modelName, err)
		}
		m.Model = modelName
		result[modelName] = m
	}
	return result, nil
}

func (q *QueryService) collect(ctx context.Context, agent, selector string) (*AgentMetrics, error) {
	m := &AgentMetrics{Agent: agent}

	prompt, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{%s, type="prompt"})`, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	completion, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_tokens_total{%s, type="completion"})`, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	cost, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_costs_total{%s})`, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query total cost: %w", err)
	}
	requests, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_requests_total{%s})`, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	failed, err := q.scalar(ctx, fmt.Sprintf(`sum(llm_requests_total{%s, status="error"})`, selector))
	if err != nil {
		return nil, fmt.Errorf("failed to query failed requests: %w", err)
	}

	m.PromptTokens = int64(prompt)
	m.CompletionTokens = int64(completion)
	m.TotalTokens = m.PromptTokens + m.CompletionTokens
	m.TotalCost = cost
	m.Requests = int64(requests)
	m.FailedRequests = int64(failed)
	return m, nil
}

// GetBreakerStates returns the current circuit state of every dependency that exported one.
func (q *QueryService) GetBreakerStates(ctx context.Context) (map[string]string, error) {
	result, _, err := q.queryAPI.Query(ctx, `resilience_circuit_state == 1`, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to query circuit states: %w", err)
	}

	states := make(map[string]string)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			states[string(sample.Metric["dependency"])] = string(sample.Metric["state"])
		}
	}
	return states, nil
}

// GetRetryCount returns the total retries recorded for a dependency.
func (q *QueryService) GetRetryCount(ctx context.Context, dependency string) (int64, error) {
	v, err := q.scalar(ctx, fmt.Sprintf(`sum(resilience_retries_total{dependency=%q})`, dependency))
	if err != nil {
		return 0, fmt.Errorf("failed to query retries: %w", err)
	}
	return int64(v), nil
}
