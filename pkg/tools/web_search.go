package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ToolWebSearch is the name of the web search tool.
const ToolWebSearch = "web_search"

const (
	defaultSearchResults = 5
	maxSearchBodyBytes   = 1 << 20

	googleSearchEndpoint     = "https://www.googleapis.com/customsearch/v1"
	duckDuckGoSearchEndpoint = "https://api.duckduckgo.com/"
)

// SearchResult is a single hit from any provider.
type SearchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

// SearchProvider is a web search backend.
type SearchProvider interface {
	Name() string
	Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error)
}

// WebSearchTool lets the decision-maker search the web through a SearchProvider.
type WebSearchTool struct {
	provider   SearchProvider
	maxResults int
}

// NewWebSearchTool uses Google Custom Search when both apiKey and cx are set,
// and DuckDuckGo's instant answer API otherwise.
func NewWebSearchTool(apiKey, cx string) *WebSearchTool {
	if apiKey != "" && cx != "" {
		return NewWebSearchToolWithProvider(NewGoogleSearchProvider(apiKey, cx))
	}
	return NewWebSearchToolWithProvider(NewDuckDuckGoProvider())
}

// NewWebSearchToolWithProvider creates the tool over an explicit provider.
func NewWebSearchToolWithProvider(provider SearchProvider) *WebSearchTool {
	return &WebSearchTool{provider: provider, maxResults: defaultSearchResults}
}

func (t *WebSearchTool) Name() string {
	return ToolWebSearch
}

// Provider returns the name of the backend in use.
func (t *WebSearchTool) Provider() string {
	return t.provider.Name()
}

func (t *WebSearchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name: ToolWebSearch,
		Description: "Search the web for current information. Returns titles, descriptions and URLs; " +
			"follow up with http_fetch to read a result.",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"query": {
					Type:        "string",
					Description: "Search query (e.g., 'Go 1.22 release notes')",
				},
			},
			Required: []string{"query"},
		},
	}
}

// Exec runs the search. Provider failures are returned as failure results.
func (t *WebSearchTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("query is required and must be a string")
	}

	results, err := t.provider.Search(ctx, query, t.maxResults)
	if err != nil {
		return ErrorResult(fmt.Sprintf("%s search failed: %v", t.provider.Name(), err)), nil
	}

	response := map[string]any{
		"success":      true,
		"query":        query,
		"provider":     t.provider.Name(),
		"result_count": len(results),
		"results":      results,
	}
	if len(results) == 0 {
		response["note"] = "No results found. Try rephrasing the query."
	}
	return SuccessResult(response)
}

func searchClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// getJSON performs a GET and decodes a JSON body into out. Non-2xx statuses are
// errors unless the body still decodes, since Google reports API errors in the body.
func getJSON(ctx context.Context, client *http.Client, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "lib-ai/1.0 (web_search tool)")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("HTTP error: %s", resp.Status)
		}
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// GoogleSearchProvider uses the Google Custom Search JSON API.
type GoogleSearchProvider struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	cx         string
}

// NewGoogleSearchProvider creates a provider for the search engine cx.
func NewGoogleSearchProvider(apiKey, cx string) *GoogleSearchProvider {
	return &GoogleSearchProvider{
		httpClient: searchClient(),
		endpoint:   googleSearchEndpoint,
		apiKey:     apiKey,
		cx:         cx,
	}
}

func (p *GoogleSearchProvider) Name() string {
	return "google"
}

type googleSearchResponse struct {
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
	Items []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"items"`
}

func (p *GoogleSearchProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("key", p.apiKey)
	params.Set("cx", p.cx)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(maxResults))

	var resp googleSearchResponse
	if err := getJSON(ctx, p.httpClient, p.endpoint+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	results := make([]SearchResult, 0, len(resp.Items))
	for i := range resp.Items {
		item := &resp.Items[i]
		results = append(results, SearchResult{Title: item.Title, Description: item.Snippet, URL: item.Link})
	}
	return results, nil
}

// DuckDuckGoProvider uses DuckDuckGo's instant answer API. It only knows
// encyclopedic topics, so general queries often return nothing.
type DuckDuckGoProvider struct {
	httpClient *http.Client
	endpoint   string
}

// NewDuckDuckGoProvider creates the keyless fallback provider.
func NewDuckDuckGoProvider() *DuckDuckGoProvider {
	return &DuckDuckGoProvider{httpClient: searchClient(), endpoint: duckDuckGoSearchEndpoint}
}

func (p *DuckDuckGoProvider) Name() string {
	return "duckduckgo"
}

type duckDuckGoTopic struct {
	Text     string `json:"Text"`
	FirstURL string `json:"FirstURL"`
}

type duckDuckGoResponse struct {
	AbstractText  string            `json:"AbstractText"`
	AbstractURL   string            `json:"AbstractURL"`
	Heading       string            `json:"Heading"`
	Answer        string            `json:"Answer"`
	RelatedTopics []duckDuckGoTopic `json:"RelatedTopics"`
	Results       []duckDuckGoTopic `json:"Results"`
}

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	var resp duckDuckGoResponse
	if err := getJSON(ctx, p.httpClient, p.endpoint+"?"+params.Encode(), &resp); err != nil {
		return nil, err
	}

	var results []SearchResult
	if resp.AbstractText != "" {
		results = append(results, SearchResult{Title: resp.Heading, Description: resp.AbstractText, URL: resp.AbstractURL})
	}
	if resp.Answer != "" {
		results = append(results, SearchResult{Title: "Instant Answer", Description: resp.Answer})
	}
	for _, group := range [][]duckDuckGoTopic{resp.Results, resp.RelatedTopics} {
		for i := range group {
			if len(results) >= maxResults {
				return results, nil
			}
			if group[i].Text != "" {
				results = append(results, SearchResult{Description: group[i].Text, URL: group[i].FirstURL})
			}
		}
	}
	return results, nil
}
