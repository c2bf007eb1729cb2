package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// SearchProvider is the external web-search collaborator (spec §1 —
// search providers are explicitly out of scope as a concrete
// implementation). Only the port is defined here.
type SearchProvider interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// SearchHit is one search result.
type SearchHit struct {
	Title string
	URL   string
	Snippet string
}

// WebSearchTool adapts a SearchProvider into the canonical web_search tool.
type WebSearchTool struct {
	Provider SearchProvider
}

func (t *WebSearchTool) Name() string { return "web_search" }

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any) Result {
	query, _ := args["query"].(string)
	if query == "" {
		return Result{Success: false, Error: "tools: web_search query must not be empty"}
	}
	hits, err := t.Provider.Search(ctx, query)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	var b strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. %s — %s\n   %s\n", i+1, h.Title, h.URL, h.Snippet)
	}
	return Result{Success: true, Output: b.String()}
}

// FetchURLTool fetches a URL and reduces it to clean article text with
// go-shiori/go-readability before handing it back to harness history —
// exactly the concern that library exists for.
type FetchURLTool struct {
	HTTPClient *http.Client
	MaxBytes   int64
}

func (t *FetchURLTool) Name() string { return "fetch_url" }

func (t *FetchURLTool) Execute(ctx context.Context, args map[string]any) Result {
	url, _ := args["url"].(string)
	if url == "" {
		return Result{Success: false, Error: "tools: fetch_url url must not be empty"}
	}

	client := t.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	maxBytes := t.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20 // 2MB
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	article, err := readability.FromReader(strings.NewReader(string(body)), nil)
	if err != nil {
		return Result{Success: true, Output: string(body)}
	}
	return Result{Success: true, Output: fmt.Sprintf("# %s\n\n%s", article.Title, article.TextContent)}
}
