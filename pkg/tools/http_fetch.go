package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ToolHTTPFetch is the name of the HTTP fetch tool.
const ToolHTTPFetch = "http_fetch"

const maxFetchOutputChars = 50000

//nolint:gochecknoglobals // compiled once
var (
	titleRegex   = regexp.MustCompile(`(?i)<title[^>]*>([^<]+)</title>`)
	scriptRegex  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRegex   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	commentRegex = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockRegex   = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|br|hr)[^>]*>`)
	brRegex      = regexp.MustCompile(`(?i)<br[^>]*>`)
	tagRegex     = regexp.MustCompile(`<[^>]+>`)
	spaceRegex   = regexp.MustCompile(`[ \t]+`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", "\"", "&#39;", "'", "&apos;", "'",
	)
)

// HTTPFetchTool fetches a URL and returns its text content.
type HTTPFetchTool struct {
	httpClient   *http.Client
	maxBodyBytes int64
}

// NewHTTPFetchTool creates the fetch tool. A nil client gets a 30s timeout and a redirect cap.
func NewHTTPFetchTool(client *http.Client) *HTTPFetchTool {
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	return &HTTPFetchTool{
		httpClient:   client,
		maxBodyBytes: 100 * 1024,
	}
}

func (t *HTTPFetchTool) Name() string {
	return ToolHTTPFetch
}

func (t *HTTPFetchTool) Definition() ToolDefinition {
	return ToolDefinition{
		Name:        ToolHTTPFetch,
		Description: "Fetch a web page or text document over HTTP(S) and return its title and text content (HTML stripped, 100KB limit).",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"url": {
					Type:        "string",
					Description: "Full URL to fetch (e.g., 'https://go.dev/doc/go1.22')",
				},
			},
			Required: []string{"url"},
		},
	}
}

// Exec fetches the URL. Transport and HTTP failures are returned as failure results.
func (t *HTTPFetchTool) Exec(ctx context.Context, args map[string]any) (*ExecResult, error) {
	urlStr, ok := args["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("url is required and must be a string")
	}
	if !strings.HasPrefix(urlStr, "http://") && !strings.HasPrefix(urlStr, "https://") {
		return ErrorResult("URL must start with http:// or https://"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, http.NoBody)
	if err != nil {
		return ErrorResult("failed to create request: " + err.Error()), nil
	}
	req.Header.Set("User-Agent", "lib-ai/1.0 (http_fetch tool)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,text/plain;q=0.8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return ErrorResult("fetch request failed: " + err.Error()), nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("HTTP error: %s", resp.Status)), nil
	}

	contentType := resp.Header.Get("Content-Type")
	if !isTextContent(contentType) {
		return ErrorResult(fmt.Sprintf("unsupported content type: %s", contentType)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBodyBytes))
	if err != nil {
		return ErrorResult("failed to read response: " + err.Error()), nil
	}

	content := string(body)
	text := extractText(content)
	truncated := false
	if len(text) > maxFetchOutputChars {
		text = text[:maxFetchOutputChars]
		truncated = true
	}

	return SuccessResult(map[string]any{
		"success":   true,
		"url":       urlStr,
		"title":     extractTitle(content),
		"content":   text,
		"truncated": truncated,
	})
}

func isTextContent(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/") ||
		strings.Contains(ct, "application/xhtml") ||
		strings.Contains(ct, "application/xml") ||
		strings.Contains(ct, "application/json")
}

func extractTitle(html string) string {
	if matches := titleRegex.FindStringSubmatch(html); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	return ""
}

// extractText strips markup and collapses whitespace, keeping one line per block element.
func extractText(html string) string {
	html = scriptRegex.ReplaceAllString(html, "")
	html = styleRegex.ReplaceAllString(html, "")
	html = commentRegex.ReplaceAllString(html, "")
	html = blockRegex.ReplaceAllString(html, "\n")
	html = brRegex.ReplaceAllString(html, "\n")

	text := entityReplacer.Replace(tagRegex.ReplaceAllString(html, ""))
	text = spaceRegex.ReplaceAllString(text, " ")

	var cleanLines []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			cleanLines = append(cleanLines, trimmed)
		}
	}
	return strings.Join(cleanLines, "\n")
}
