package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	labels map[string]string
	value  string
}

// fakePrometheus answers instant queries from a table keyed by exact PromQL text.
type fakePrometheus struct {
	answers map[string][]sample
	mu      sync.Mutex
	queries []string
	fail    bool
}

func (f *fakePrometheus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasSuffix(r.URL.Path, "/api/v1/query") {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	query := r.Form.Get("query")

	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if f.fail {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "error", "errorType": "execution", "error": "boom",
		})
		return
	}

	result := make([]map[string]any, 0)
	for _, s := range f.answers[query] {
		labels := s.labels
		if labels == nil {
			labels = map[string]string{}
		}
		result = append(result, map[string]any{
			"metric": labels,
			"value":  []any{1700000000.0, s.value},
		})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "success",
		"data":   map[string]any{"resultType": "vector", "result": result},
	})
}

func newService(t *testing.T, fake *fakePrometheus) *QueryService {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	q, err := NewQueryService(srv.URL)
	require.NoError(t, err)
	return q
}

func TestGetAgentMetrics(t *testing.T) {
	fake := &fakePrometheus{answers: map[string][]sample{
		`sum(llm_tokens_total{agent="calc", type="prompt"})`:     {{value: "1200"}},
		`sum(llm_tokens_total{agent="calc", type="completion"})`: {{value: "300"}},
		`sum(llm_costs_total{agent="calc"})`:                     {{value: "0.0125"}},
		`sum(llm_requests_total{agent="calc"})`:                  {{value: "9"}},
		`sum(llm_requests_total{agent="calc", status="error"})`:  {{value: "2"}},
	}}
	q := newService(t, fake)

	m, err := q.GetAgentMetrics(context.Background(), "calc")
	require.NoError(t, err)
	assert.Equal(t, "calc", m.Agent)
	assert.Equal(t, int64(1200), m.PromptTokens)
	assert.Equal(t, int64(300), m.CompletionTokens)
	assert.Equal(t, int64(1500), m.TotalTokens)
	assert.InDelta(t, 0.0125, m.TotalCost, 1e-9)
	assert.Equal(t, int64(9), m.Requests)
	assert.Equal(t, int64(2), m.FailedRequests)
}

func TestGetAgentMetricsEmptyResults(t *testing.T) {
	q := newService(t, &fakePrometheus{})

	m, err := q.GetAgentMetrics(context.Background(), "idle")
	require.NoError(t, err)
	assert.Zero(t, m.TotalTokens)
	assert.Zero(t, m.TotalCost)
}

func TestGetAgentMetricsByModel(t *testing.T) {
	fake := &fakePrometheus{answers: map[string][]sample{
		`group by (model) (llm_requests_total{agent="calc"})`: {
			{labels: map[string]string{"model": "gpt-4o"}, value: "1"},
			{labels: map[string]string{"model": "claude-sonnet-4-5"}, value: "1"},
		},
		`sum(llm_tokens_total{agent="calc", model="gpt-4o", type="prompt"})`:            {{value: "100"}},
		`sum(llm_tokens_total{agent="calc", model="claude-sonnet-4-5", type="prompt"})`: {{value: "40"}},
		`sum(llm_costs_total{agent="calc", model="claude-sonnet-4-5"})`:                 {{value: "0.5"}},
	}}
	q := newService(t, fake)

	byModel, err := q.GetAgentMetricsByModel(context.Background(), "calc")
	require.NoError(t, err)
	require.Len(t, byModel, 2)
	assert.Equal(t, int64(100), byModel["gpt-4o"].PromptTokens)
	assert.Equal(t, "gpt-4o", byModel["gpt-4o"].Model)
	assert.Equal(t, int64(40), byModel["claude-sonnet-4-5"].PromptTokens)
	assert.InDelta(t, 0.5, byModel["claude-sonnet-4-5"].TotalCost, 1e-9)
}

func TestGetBreakerStatesAndRetries(t *testing.T) {
	fake := &fakePrometheus{answers: map[string][]sample{
		`resilience_circuit_state == 1`: {
			{labels: map[string]string{"dependency": "anthropic", "state": "Open"}, value: "1"},
			{labels: map[string]string{"dependency": "tools", "state": "Closed"}, value: "1"},
		},
		`sum(resilience_retries_total{dependency="anthropic"})`: {{value: "4"}},
	}}
	q := newService(t, fake)

	states, err := q.GetBreakerStates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"anthropic": "Open", "tools": "Closed"}, states)

	retries, err := q.GetRetryCount(context.Background(), "anthropic")
	require.NoError(t, err)
	assert.Equal(t, int64(4), retries)
}

func TestQueryErrorIsReturned(t *testing.T) {
	q := newService(t, &fakePrometheus{fail: true})

	_, err := q.GetAgentMetrics(context.Background(), "calc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt tokens")
}
