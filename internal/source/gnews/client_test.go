package gnews

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/4ndry11/zvnews/internal/news"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient("test-key", Options{BaseURL: srv.URL, MaxResults: 10}, logx.Nop())
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	return c
}

func TestFetchSendsQueryParams(t *testing.T) {
	t.Parallel()
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()
		w.Write([]byte(`{"totalArticles":0,"articles":[]}`))
	})

	from := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)
	_, err := c.Fetch(context.Background(), news.Query{Text: "банки", Lang: "uk", Topic: "Банки"}, from, to)
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if got.Get("q") != "банки" {
		t.Fatalf("q = %q", got.Get("q"))
	}
	if got.Get("lang") != "uk" {
		t.Fatalf("lang = %q", got.Get("lang"))
	}
	if got.Get("max") != "10" {
		t.Fatalf("max = %q", got.Get("max"))
	}
	if got.Get("apikey") != "test-key" {
		t.Fatalf("apikey = %q", got.Get("apikey"))
	}
	if got.Get("from") != "2025-06-01T10:00:00Z" {
		t.Fatalf("from = %q", got.Get("from"))
	}
	if got.Get("to") != "2025-06-01T11:00:00Z" {
		t.Fatalf("to = %q", got.Get("to"))
	}
}

func TestFetchMapsArticles(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"totalArticles": 2,
			"articles": [
				{
					"title": "Bank X collapses",
					"description": "Details inside",
					"url": "https://example.com/a",
					"image": "https://example.com/a.jpg",
					"publishedAt": "2025-06-01T09:30:00Z",
					"source": {"name": "Example Wire", "url": "https://example.com"}
				},
				{
					"title": "Undated piece",
					"description": "",
					"url": "https://example.com/b",
					"publishedAt": "not-a-date",
					"source": {"name": "Example Wire"}
				}
			]
		}`))
	})

	items, err := c.Fetch(context.Background(), news.Query{Text: "banks", Lang: "en", Topic: "Банки"}, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	a := items[0]
	if a.URL != "https://example.com/a" || a.Title != "Bank X collapses" {
		t.Fatalf("unexpected first item: %+v", a)
	}
	if a.Topic != "Банки" || a.Query != "banks" || a.Lang != "en" {
		t.Fatalf("query metadata not attached: %+v", a)
	}
	if a.Source != "Example Wire" {
		t.Fatalf("Source = %q", a.Source)
	}
	want := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	if !a.PublishedAt.Equal(want) {
		t.Fatalf("PublishedAt = %v, want %v", a.PublishedAt, want)
	}

	// Malformed date maps to zero time, item survives.
	if !items[1].PublishedAt.IsZero() {
		t.Fatalf("malformed date should map to zero time, got %v", items[1].PublishedAt)
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"errors":["invalid api key"]}`))
	})

	_, err := c.Fetch(context.Background(), news.Query{Text: "x", Lang: "en"}, time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestFetchMalformedBody(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalArticles": `))
	})

	_, err := c.Fetch(context.Background(), news.Query{Text: "x", Lang: "en"}, time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := NewClient("  ", Options{}, logx.Nop()); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
