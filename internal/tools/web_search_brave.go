package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	defaultSearchCount   = 10
	maxSearchCount       = 10
	searchTimeoutSeconds = 30
	webSearchResultCap   = 8 * 1024 // 8 KB
)

var freshnessShortcuts = map[string]bool{"pd": true, "pw": true, "pm": true, "py": true}
var freshnessRangeRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})to(\d{4}-\d{2}-\d{2})$`)

func normalizeFreshness(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if freshnessShortcuts[v] {
		return v
	}
	if m := freshnessRangeRe.FindStringSubmatch(v); len(m) == 3 {
		start, errS := time.Parse("2006-01-02", m[1])
		end, errE := time.Parse("2006-01-02", m[2])
		if errS == nil && errE == nil && !start.After(end) {
			return v
		}
	}
	return ""
}

// WebSearchTool implements web_search(query, count=10, freshness?,
// location?) over the Brave Search API.
type WebSearchTool struct {
	apiKey string
	client *http.Client
}

// NewWebSearchTool constructs a WebSearchTool. Returns nil when apiKey is
// empty — the tool registry omits it entirely in that case, matching the
// ambient-config convention of BRAVE_API_KEY gating the tool's presence.
func NewWebSearchTool(apiKey string) *WebSearchTool {
	if apiKey == "" {
		return nil
	}
	return &WebSearchTool{
		apiKey: apiKey,
		client: &http.Client{Timeout: searchTimeoutSeconds * time.Second},
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web and return titles, URLs, and snippets."
}
func (t *WebSearchTool) ArgsSchema() string {
	return "query (string, required), count (int, optional, default 10, max 10), freshness (string, optional: pd/pw/pm/py or YYYY-MM-DDtoYYYY-MM-DD), location (string, optional)"
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]string) *Result {
	query := args["query"]
	if query == "" {
		return ErrorResult("query is required")
	}

	count := defaultSearchCount
	if raw, ok := args["count"]; ok && raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 1 && n <= maxSearchCount {
			count = n
		}
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	if loc := args["location"]; loc != "" {
		q.Set("search_lang", "en")
		q.Set("ui_lang", "en")
		q.Set("country", loc)
	}
	if f := normalizeFreshness(args["freshness"]); f != "" {
		q.Set("freshness", f)
	}

	reqURL := braveSearchEndpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return ErrorResult("build request failed").WithError(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("web_search request failed: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorResult("read response failed").WithError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return ErrorResult(fmt.Sprintf("brave search returned %d: %s", resp.StatusCode, truncate(string(body), 200)))
	}

	var parsed struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ErrorResult("parse response failed").WithError(err)
	}

	return NewResult(formatSearchResults(query, parsed.Web.Results))
}

func formatSearchResults(query string, results []struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for: %s", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for: %s\n\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
		b.WriteByte('\n')
		if b.Len() > webSearchResultCap {
			break
		}
	}
	out := b.String()
	if len(out) > webSearchResultCap {
		out = out[:webSearchResultCap] + "\n... (truncated)"
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
