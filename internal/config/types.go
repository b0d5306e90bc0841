package config

// Config is the whole zvnews configuration file.
//
// All duration-ish fields are Go duration strings (e.g. "500ms", "30s",
// "1h"); they are validated on load and hot-reload.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Source    SourceConfig    `json:"source"`
	Translate TranslateConfig `json:"translate"`
	Monitor   MonitorConfig   `json:"monitor"`
	Dedup     DedupConfig     `json:"dedup"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     DebugConfig     `json:"debug,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// AdminChat receives the startup banner and (when the telegram log sink
	// is enabled) operational warnings/errors. Decimal chat id.
	AdminChat string `json:"admin_chat,omitempty"`

	// PollTimeout bounds the getUpdates long-poll (e.g. "30s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SourceConfig controls the news source client.
type SourceConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url,omitempty"` // default: https://gnews.io/api/v4
	Timeout    string `json:"timeout,omitempty"`  // per-request, default "15s"
	MaxResults int    `json:"max_results,omitempty"`

	// Queries overrides the built-in financial query set.
	Queries []QueryConfig `json:"queries,omitempty"`
}

type QueryConfig struct {
	Query string `json:"query"`
	Lang  string `json:"lang"`
	Topic string `json:"topic"`
}

type TranslateConfig struct {
	Enabled    bool   `json:"enabled"`
	TargetLang string `json:"target_lang,omitempty"` // default "uk"
	BaseURL    string `json:"base_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // default "10s"
}

// MonitorConfig controls the poll cycle.
type MonitorConfig struct {
	Enabled bool `json:"enabled"`

	// Schedule is a cron spec; descriptors like "@every 60m" are accepted.
	Schedule string `json:"schedule,omitempty"`

	// Window is the trailing fetch window per cycle (default "1h").
	Window string `json:"window,omitempty"`

	// SweepEvery triggers the delivery-record retention sweep every N
	// cycles (default 24).
	SweepEvery int `json:"sweep_every,omitempty"`
}

// DedupConfig controls duplicate suppression.
type DedupConfig struct {
	ExactWindow string  `json:"exact_window,omitempty"` // default "168h"
	FuzzyWindow string  `json:"fuzzy_window,omitempty"` // default "72h"
	Similarity  float64 `json:"similarity,omitempty"`   // default 0.85
	Retention   string  `json:"retention,omitempty"`    // default "720h"
}

type BroadcastConfig struct {
	// RatePerSec caps sends across all subscribers (default 25).
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// PerChatInterval is the minimum spacing between messages to one
	// subscriber (default "500ms").
	PerChatInterval string `json:"per_chat_interval,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./zvnews_state" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DebugConfig controls the optional local debug HTTP server
// (pprof + Prometheus metrics).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly
//     allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default: "127.0.0.1:6060"
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`  // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0
	// (disabled) so /profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
