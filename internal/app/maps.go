package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/4ndry11/zvnews/internal/broadcast"
	"github.com/4ndry11/zvnews/internal/config"
	"github.com/4ndry11/zvnews/internal/dedup"
	"github.com/4ndry11/zvnews/internal/monitor"
	"github.com/4ndry11/zvnews/internal/news"
	"github.com/4ndry11/zvnews/internal/observability/debug"
	"github.com/4ndry11/zvnews/internal/source/gnews"
	"github.com/4ndry11/zvnews/internal/translate"
	logx "github.com/4ndry11/zvnews/pkg/logx"
)

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// parseAdminChat returns the admin chat id, or false when the field is
// unset or not a decimal chat id.
func parseAdminChat(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// mapSourceConfig validates and converts the news source section. The
// API key may be empty; NewApp only treats that as fatal when the
// monitor is enabled.
func mapSourceConfig(cfg *config.Config) (string, gnews.Options, error) {
	timeout, err := parseDurationField("source.timeout", cfg.Source.Timeout)
	if err != nil {
		return "", gnews.Options{}, err
	}
	if cfg.Source.MaxResults < 0 {
		return "", gnews.Options{}, fmt.Errorf("source.max_results must be >= 0")
	}
	return strings.TrimSpace(cfg.Source.APIKey), gnews.Options{
		BaseURL:    strings.TrimSpace(cfg.Source.BaseURL),
		Timeout:    timeout,
		MaxResults: cfg.Source.MaxResults,
	}, nil
}

// mapQueries converts the configured query list. An empty result means
// "use the built-in financial set".
func mapQueries(cfg *config.Config) []news.Query {
	out := make([]news.Query, 0, len(cfg.Source.Queries))
	for _, q := range cfg.Source.Queries {
		text := strings.TrimSpace(q.Query)
		if text == "" {
			continue
		}
		out = append(out, news.Query{Text: text, Lang: strings.TrimSpace(q.Lang), Topic: strings.TrimSpace(q.Topic)})
	}
	return out
}

func mapTranslateConfig(cfg *config.Config) (string, translate.Options, error) {
	timeout, err := parseDurationField("translate.timeout", cfg.Translate.Timeout)
	if err != nil {
		return "", translate.Options{}, err
	}
	return strings.TrimSpace(cfg.Translate.TargetLang), translate.Options{
		BaseURL: strings.TrimSpace(cfg.Translate.BaseURL),
		Timeout: timeout,
	}, nil
}

func mapDedupOptions(cfg *config.Config) (dedup.Options, error) {
	exact, err := parseDurationField("dedup.exact_window", cfg.Dedup.ExactWindow)
	if err != nil {
		return dedup.Options{}, err
	}
	fuzzy, err := parseDurationField("dedup.fuzzy_window", cfg.Dedup.FuzzyWindow)
	if err != nil {
		return dedup.Options{}, err
	}
	if s := cfg.Dedup.Similarity; s < 0 || s > 1 {
		return dedup.Options{}, fmt.Errorf("dedup.similarity must be within (0, 1], got %v", s)
	}
	return dedup.Options{
		ExactWindow: exact,
		FuzzyWindow: fuzzy,
		Threshold:   cfg.Dedup.Similarity,
	}, nil
}

func mapBroadcastOptions(cfg *config.Config) (broadcast.Options, error) {
	if cfg.Broadcast.RatePerSec < 0 {
		return broadcast.Options{}, fmt.Errorf("broadcast.rate_per_sec must be >= 0")
	}
	rate := cfg.Broadcast.RatePerSec
	if rate == 0 {
		rate = 25
	}
	interval, err := parseDurationOrDefault("broadcast.per_chat_interval", cfg.Broadcast.PerChatInterval, 500*time.Millisecond)
	if err != nil {
		return broadcast.Options{}, err
	}
	return broadcast.Options{RatePerSec: rate, PerChatInterval: interval}, nil
}

// mapMonitorConfig validates and converts the monitor section. Sweep
// retention comes from the dedup section; the monitor only triggers the
// sweep, the ledger owns record lifetimes.
func mapMonitorConfig(cfg *config.Config) (monitor.Config, error) {
	window, err := parseDurationField("monitor.window", cfg.Monitor.Window)
	if err != nil {
		return monitor.Config{}, err
	}
	retention, err := parseDurationField("dedup.retention", cfg.Dedup.Retention)
	if err != nil {
		return monitor.Config{}, err
	}
	if cfg.Monitor.SweepEvery < 0 {
		return monitor.Config{}, fmt.Errorf("monitor.sweep_every must be >= 0")
	}
	return monitor.Config{
		Enabled:    cfg.Monitor.Enabled,
		Schedule:   strings.TrimSpace(cfg.Monitor.Schedule),
		Window:     window,
		SweepEvery: cfg.Monitor.SweepEvery,
		Retention:  retention,
		Queries:    mapQueries(cfg),
	}, nil
}

// mapDebugConfig validates and converts the debug server section. It
// never starts the server.
func mapDebugConfig(cfg *config.Config) (debug.Config, error) {
	var out debug.Config
	dc := cfg.Debug

	out.Enabled = dc.Enabled
	out.AllowInsecure = dc.AllowInsecure
	out.Token = strings.TrimSpace(dc.Token)
	out.Addr = strings.TrimSpace(dc.Addr)
	out.Prefix = strings.TrimSpace(dc.Prefix)

	if out.Addr == "" {
		out.Addr = "127.0.0.1:6060"
	}
	if out.Prefix == "" {
		out.Prefix = "/debug/pprof/"
	}

	readTO, err := parseDurationOrDefault("debug.read_timeout", dc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	writeTO, err := parseDurationField("debug.write_timeout", dc.WriteTimeout)
	if err != nil {
		return out, err
	}
	idleTO, err := parseDurationOrDefault("debug.idle_timeout", dc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout = readTO
	out.WriteTimeout = writeTO // default 0 (disabled) so /profile can run 30s+
	out.IdleTimeout = idleTO

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("debug.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		// Refuse a public bind without explicit opt-in.
		if !out.AllowInsecure && out.Token == "" && !isLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("debug: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}

	return out, nil
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
