package news

import (
	"strings"
	"time"
)

// Item is one article as it flows through the pipeline: fetched from the
// source, deduplicated, optionally translated, then broadcast.
type Item struct {
	URL         string
	Title       string
	Summary     string
	Topic       string
	Query       string
	Lang        string
	Source      string
	PublishedAt time.Time
	Image       string
}

// Identity returns the key the delivery ledger tracks an article by.
// The URL identifies an article; a URL-less item falls back to its title.
func (it Item) Identity() string {
	if u := strings.TrimSpace(it.URL); u != "" {
		return u
	}
	return strings.TrimSpace(it.Title)
}

// Query is one search the monitor runs each cycle. Topic is the human
// label articles from this query are grouped under.
type Query struct {
	Text  string `json:"query"`
	Lang  string `json:"lang"`
	Topic string `json:"topic"`
}

// DefaultQueries returns the built-in financial watchlist, used when the
// config lists no queries of its own.
func DefaultQueries() []Query {
	return []Query{
		{Text: "bankruptcy", Lang: "en", Topic: "Банкрутство"},
		{Text: "банкрутство", Lang: "uk", Topic: "Банкрутство"},
		{Text: "банкротство", Lang: "ru", Topic: "Банкрутство"},
		{Text: "banks", Lang: "en", Topic: "Банки"},
		{Text: "банки", Lang: "uk", Topic: "Банки"},
		{Text: "банки", Lang: "ru", Topic: "Банки"},
		{Text: "credits", Lang: "en", Topic: "Кредити"},
		{Text: "loans", Lang: "en", Topic: "Кредити"},
		{Text: "кредити", Lang: "uk", Topic: "Кредити"},
		{Text: "кредиты", Lang: "ru", Topic: "Кредити"},
		{Text: "legislation", Lang: "en", Topic: "Законодавство"},
		{Text: "law", Lang: "en", Topic: "Законодавство"},
		{Text: "законодавство", Lang: "uk", Topic: "Законодавство"},
		{Text: "законодательство", Lang: "ru", Topic: "Законодавство"},
	}
}
