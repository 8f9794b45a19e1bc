package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func testClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(Config{BraveAPIKey: "test-key", CacheTTL: time.Minute})
	c.httpClient = srv.Client()
	return c, srv
}

func rewriteBase(c *Client, url string) { c.baseURL = url }

const braveBody = `{"web":{"results":[
  {"title":"Go docs","url":"https://go.dev/doc","description":"The Go documentation."},
  {"title":"Tour","url":"https://go.dev/tour","description":"A tour of Go."}
]}}`

func TestWebSearchFormatsResults(t *testing.T) {
	var calls atomic.Int64
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-Subscription-Token") != "test-key" {
			t.Errorf("missing subscription token")
		}
		if got := r.URL.Query().Get("q"); got != "golang" {
			t.Errorf("q = %q", got)
		}
		_, _ = w.Write([]byte(braveBody))
	})
	rewriteBase(c, srv.URL)

	text, err := c.WebSearch(context.Background(), "golang", "standard")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "1. Go docs") || !strings.Contains(text, "https://go.dev/doc") {
		t.Fatalf("text = %q", text)
	}

	// Second identical query is served from cache.
	if _, err := c.WebSearch(context.Background(), "golang", "standard"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("upstream calls = %d, want 1", calls.Load())
	}
}

func TestWebSearchDepthChangesCount(t *testing.T) {
	counts := make(chan string, 2)
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		counts <- r.URL.Query().Get("count")
		_, _ = w.Write([]byte(braveBody))
	})
	rewriteBase(c, srv.URL)

	if _, err := c.WebSearch(context.Background(), "a", "standard"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.WebSearch(context.Background(), "a", "deep"); err != nil {
		t.Fatal(err)
	}
	if got := <-counts; got != "5" {
		t.Fatalf("standard count = %q, want 5", got)
	}
	if got := <-counts; got != "15" {
		t.Fatalf("deep count = %q, want 15", got)
	}
}

func TestReadDocsTruncatesToBudget(t *testing.T) {
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(braveBody))
	})
	rewriteBase(c, srv.URL)

	text, err := c.ReadDocs(context.Background(), "Go", "generics", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(text) > 40 {
		t.Fatalf("len = %d, want <= 40", len(text))
	}
}

func TestReadDocsTruncatesOnRuneBoundary(t *testing.T) {
	// Two-byte runes positioned so the raw byte budget lands inside one.
	body := `{"web":{"results":[{"title":"ééééééééé","url":"https://example.com/é","description":"café docs"}]}}`
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})
	rewriteBase(c, srv.URL)

	text, err := c.ReadDocs(context.Background(), "caf", "brewing", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(text) > 12 {
		t.Fatalf("len = %d, want <= 12", len(text))
	}
	if !utf8.ValidString(text) {
		t.Fatalf("truncated text is not valid UTF-8: %q", text)
	}
}

func TestSearchUpstreamError(t *testing.T) {
	c, srv := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})
	rewriteBase(c, srv.URL)

	if _, err := c.WebSearch(context.Background(), "x", "standard"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestSearchRequiresAPIKey(t *testing.T) {
	c := NewClient(Config{})
	if _, err := c.WebSearch(context.Background(), "x", "standard"); err == nil {
		t.Fatal("expected error without API key")
	}
}
