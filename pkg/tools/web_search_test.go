package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebSearchToolSelectsProvider(t *testing.T) {
	if got := NewWebSearchTool("key", "cx").Provider(); got != "google" {
		t.Errorf("Provider() = %q, want google", got)
	}
	if got := NewWebSearchTool("key", "").Provider(); got != "duckduckgo" {
		t.Errorf("Provider() = %q, want duckduckgo", got)
	}
}

func TestWebSearchTool_Definition(t *testing.T) {
	def := NewWebSearchTool("", "").Definition()
	if def.Name != ToolWebSearch {
		t.Errorf("Definition().Name = %q, want %q", def.Name, ToolWebSearch)
	}
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "query" {
		t.Errorf("Expected 'query' to be required, got: %v", def.InputSchema.Required)
	}
}

func TestWebSearchTool_Exec_MissingQuery(t *testing.T) {
	tool := NewWebSearchTool("", "")
	for _, args := range []map[string]any{{}, {"query": ""}, {"query": 123}} {
		if _, err := tool.Exec(context.Background(), args); err == nil {
			t.Errorf("Expected error for args %v", args)
		}
	}
}

func TestGoogleSearchProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		assert.Equal(t, "engine", r.URL.Query().Get("cx"))
		assert.Equal(t, "go generics", r.URL.Query().Get("q"))
		assert.Equal(t, "5", r.URL.Query().Get("num"))
		_, _ = w.Write([]byte(`{"items":[{"title":"Generics","link":"https://go.dev/doc/tutorial/generics","snippet":"Tutorial"}]}`))
	}))
	defer srv.Close()

	p := NewGoogleSearchProvider("k", "engine")
	p.endpoint = srv.URL
	tool := NewWebSearchToolWithProvider(p)

	res, err := tool.Exec(context.Background(), map[string]any{"query": "go generics"})
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out struct {
		Provider string         `json:"provider"`
		Results  []SearchResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Content), &out))
	assert.Equal(t, "google", out.Provider)
	assert.Equal(t, []SearchResult{{Title: "Generics", Description: "Tutorial", URL: "https://go.dev/doc/tutorial/generics"}}, out.Results)
}

func TestGoogleSearchProviderAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":403,"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	p := NewGoogleSearchProvider("k", "engine")
	p.endpoint = srv.URL

	res, err := NewWebSearchToolWithProvider(p).Exec(context.Background(), map[string]any{"query": "x"})
	require.NoError(t, err, "provider failures are results, not errors")
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "quota exceeded")
}

func TestDuckDuckGoProviderCapsResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(`{
			"Heading": "Go", "AbstractText": "A language", "AbstractURL": "https://go.dev",
			"RelatedTopics": [{"Text": "a", "FirstURL": "u1"}, {"Text": ""}, {"Text": "b", "FirstURL": "u2"}, {"Text": "c", "FirstURL": "u3"}]
		}`))
	}))
	defer srv.Close()

	p := NewDuckDuckGoProvider()
	p.endpoint = srv.URL

	results, err := p.Search(context.Background(), "go", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "Go", results[0].Title)
	assert.Equal(t, "a", results[1].Description)
	assert.Equal(t, "u2", results[2].URL)
}
