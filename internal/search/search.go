// Package search backs the web_search and read_docs tools with the Brave
// Search API, fronted by a small TTL cache so agents repeating a query
// within a run don't burn API quota.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	braveBaseURL = "https://api.search.brave.com/res/v1/web/search"

	// maxCacheSize caps cached responses to bound memory.
	maxCacheSize = 1000

	standardResultCount = 5
	deepResultCount     = 15
)

// Config configures the search client.
type Config struct {
	BraveAPIKey string

	// CacheTTL defaults to five minutes.
	CacheTTL time.Duration

	// Timeout bounds one upstream request.
	Timeout time.Duration
}

type cacheEntry struct {
	text      string
	expiresAt time.Time
}

// Client queries Brave Search and formats results for tool output.
// Safe for concurrent use.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry
}

// NewClient builds a search client. The API key is required at call time,
// not construction, so a keyless deployment fails per-call with a clear
// message instead of at startup.
func NewClient(cfg Config) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    braveBaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      map[string]*cacheEntry{},
	}
}

// WebSearch runs one query. Deep searches pull more results.
func (c *Client) WebSearch(ctx context.Context, query, depth string) (string, error) {
	count := standardResultCount
	if depth == "deep" {
		count = deepResultCount
	}
	return c.search(ctx, query, count)
}

// ReadDocs fetches documentation snippets for a library topic and truncates
// them to roughly the requested token budget.
func (c *Client) ReadDocs(ctx context.Context, libraryTitle, topic string, maxTokens int) (string, error) {
	query := strings.TrimSpace(libraryTitle + " " + topic + " documentation")
	text, err := c.search(ctx, query, deepResultCount)
	if err != nil {
		return "", err
	}
	if maxTokens > 0 {
		// Rough chars-per-token heuristic; exact counts are not worth a
		// tokenizer dependency here.
		if limit := maxTokens * 4; len(text) > limit {
			// Back off to a rune boundary so the cut never splits a
			// multi-byte character.
			for limit > 0 && !utf8.RuneStart(text[limit]) {
				limit--
			}
			text = text[:limit]
		}
	}
	return text, nil
}

func (c *Client) search(ctx context.Context, query string, count int) (string, error) {
	if c.cfg.BraveAPIKey == "" {
		return "", fmt.Errorf("search: no API key configured")
	}

	key := fmt.Sprintf("%d:%s", count, query)
	if cached := c.getFromCache(key); cached != "" {
		return cached, nil
	}

	searchURL, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	values := url.Values{}
	values.Set("q", query)
	values.Set("count", fmt.Sprintf("%d", count))
	searchURL.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("search: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.cfg.BraveAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("search: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("search: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search: upstream status %d: %s", resp.StatusCode, string(body))
	}

	text, err := formatBraveResults(body)
	if err != nil {
		return "", err
	}
	c.putInCache(key, text)
	return text, nil
}

// formatBraveResults flattens the web results into the numbered-list shape
// models handle well.
func formatBraveResults(body []byte) (string, error) {
	var braveResp struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &braveResp); err != nil {
		return "", fmt.Errorf("search: parse response: %w", err)
	}
	if len(braveResp.Web.Results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range braveResp.Web.Results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Description != "" {
			fmt.Fprintf(&b, "   %s\n", r.Description)
		}
	}
	return b.String(), nil
}

func (c *Client) getFromCache(key string) string {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return ""
	}
	return entry.text
}

func (c *Client) putInCache(key, text string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	now := time.Now()
	for k, v := range c.cache {
		if now.After(v.expiresAt) {
			delete(c.cache, k)
		}
	}
	for len(c.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range c.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		delete(c.cache, oldestKey)
	}

	c.cache[key] = &cacheEntry{text: text, expiresAt: now.Add(c.cfg.CacheTTL)}
}
