// Package gnews provides a client for the GNews search API.
package gnews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/4ndry11/zvnews/internal/metrics"
	"github.com/4ndry11/zvnews/internal/news"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

const (
	// DefaultBaseURL is the base URL for the GNews API.
	DefaultBaseURL = "https://gnews.io/api/v4"

	defaultTimeout    = 15 * time.Second
	defaultMaxResults = 10
)

// Options tune the client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	MaxResults int
}

// Client is a GNews API client.
type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	httpClient *http.Client
	log        logx.Logger
}

// NewClient creates a GNews client. The API key is required.
func NewClient(apiKey string, opt Options, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gnews: api key is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	base := strings.TrimRight(strings.TrimSpace(opt.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxResults := opt.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    base,
		maxResults: maxResults,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}, nil
}

type searchResponse struct {
	TotalArticles int       `json:"totalArticles"`
	Articles      []article `json:"articles"`
}

type article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Image       string `json:"image"`
	PublishedAt string `json:"publishedAt"`
	Source      struct {
		Name string `json:"name"`
		URL  string `json:"url"`
	} `json:"source"`
}

// Fetch runs one search and maps the response onto news items. The from/to
// bounds are optional; a zero time omits that bound.
func (c *Client) Fetch(ctx context.Context, q news.Query, from, to time.Time) ([]news.Item, error) {
	params := url.Values{}
	params.Set("q", q.Text)
	params.Set("lang", q.Lang)
	params.Set("max", strconv.Itoa(c.maxResults))
	params.Set("apikey", c.apiKey)
	if !from.IsZero() {
		params.Set("from", from.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if !to.IsZero() {
		params.Set("to", to.UTC().Format("2006-01-02T15:04:05Z"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("gnews: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.Get().SourceDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Get().SourceRequestsTotal.WithLabelValues(q.Lang, "error").Inc()
		return nil, fmt.Errorf("gnews: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Get().SourceRequestsTotal.WithLabelValues(q.Lang, strconv.Itoa(resp.StatusCode)).Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("gnews: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		metrics.Get().SourceRequestsTotal.WithLabelValues(q.Lang, "decode_error").Inc()
		return nil, fmt.Errorf("gnews: decode response: %w", err)
	}
	metrics.Get().SourceRequestsTotal.WithLabelValues(q.Lang, "ok").Inc()
	metrics.Get().SourceItemsTotal.Add(float64(len(sr.Articles)))

	c.log.Debug("gnews search done",
		logx.String("query", q.Text),
		logx.String("lang", q.Lang),
		logx.Int("total", sr.TotalArticles),
		logx.Int("returned", len(sr.Articles)),
		logx.Duration("took", time.Since(start)),
	)

	items := make([]news.Item, 0, len(sr.Articles))
	for _, a := range sr.Articles {
		if strings.TrimSpace(a.URL) == "" && strings.TrimSpace(a.Title) == "" {
			continue
		}
		// One malformed date must not drop the batch; a zero time just
		// renders without one.
		at, perr := time.Parse(time.RFC3339, a.PublishedAt)
		if perr != nil {
			at = time.Time{}
		}
		items = append(items, news.Item{
			URL:         a.URL,
			Title:       a.Title,
			Summary:     a.Description,
			Topic:       q.Topic,
			Query:       q.Text,
			Lang:        q.Lang,
			Source:      a.Source.Name,
			PublishedAt: at,
			Image:       a.Image,
		})
	}
	return items, nil
}
