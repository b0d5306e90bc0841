// Package translate renders article text into the broadcast language via
// the public Google Translate endpoint. Failures are absorbed: the caller
// always gets text back, translated or original.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/4ndry11/zvnews/internal/metrics"
	"github.com/4ndry11/zvnews/internal/news"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

const (
	// DefaultBaseURL is the unauthenticated gtx translate endpoint.
	DefaultBaseURL = "https://translate.googleapis.com/translate_a/single"

	// DefaultTargetLang is Ukrainian, the broadcast language.
	DefaultTargetLang = "uk"

	defaultTimeout = 10 * time.Second
)

// Options tune the translator. Zero values fall back to defaults.
type Options struct {
	BaseURL string
	Timeout time.Duration
}

type Translator struct {
	targetLang string
	baseURL    string
	httpClient *http.Client
	log        logx.Logger
}

func New(targetLang string, opt Options, log logx.Logger) *Translator {
	if log.IsZero() {
		log = logx.Nop()
	}
	targetLang = strings.TrimSpace(targetLang)
	if targetLang == "" {
		targetLang = DefaultTargetLang
	}
	base := strings.TrimSpace(opt.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Translator{
		targetLang: targetLang,
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Translate returns text in the target language, or the input unchanged
// when translation is unnecessary or fails. It never returns an error;
// the pipeline prefers an untranslated article over a dropped one.
func (t *Translator) Translate(ctx context.Context, text, sourceLang string) string {
	text = strings.TrimSpace(text)
	if text == "" || sourceLang == t.targetLang {
		metrics.Get().TranslateTotal.WithLabelValues("skipped").Inc()
		return text
	}
	if strings.TrimSpace(sourceLang) == "" {
		sourceLang = "auto"
	}

	out, err := t.translate(ctx, text, sourceLang)
	if err != nil {
		metrics.Get().TranslateTotal.WithLabelValues("error").Inc()
		metrics.Get().TranslateErrors.Inc()
		t.log.Warn("translate failed; keeping original text",
			logx.String("source_lang", sourceLang),
			logx.Err(err),
		)
		return text
	}
	metrics.Get().TranslateTotal.WithLabelValues("ok").Inc()
	return out
}

func (t *Translator) translate(ctx context.Context, text, sourceLang string) (string, error) {
	params := url.Values{}
	params.Set("client", "gtx")
	params.Set("sl", sourceLang)
	params.Set("tl", t.targetLang)
	params.Set("dt", "t")
	params.Set("q", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("translate: build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return "", fmt.Errorf("translate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	// The gtx payload is a nested array; element 0 lists segments whose
	// first field is the translated chunk.
	var outer []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&outer); err != nil {
		return "", fmt.Errorf("translate: decode response: %w", err)
	}
	if len(outer) == 0 {
		return "", fmt.Errorf("translate: empty response")
	}
	var segs [][]any
	if err := json.Unmarshal(outer[0], &segs); err != nil {
		return "", fmt.Errorf("translate: decode segments: %w", err)
	}

	var sb strings.Builder
	for _, seg := range segs {
		if len(seg) == 0 {
			continue
		}
		if s, ok := seg[0].(string); ok {
			sb.WriteString(s)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("translate: no segments in response")
	}
	return sb.String(), nil
}

// TranslateItem returns a copy of the item with title and summary in the
// target language. Items already in the target language pass through.
func (t *Translator) TranslateItem(ctx context.Context, it news.Item) news.Item {
	if it.Lang == t.targetLang {
		return it
	}
	it.Title = t.Translate(ctx, it.Title, it.Lang)
	it.Summary = t.Translate(ctx, it.Summary, it.Lang)
	return it
}
