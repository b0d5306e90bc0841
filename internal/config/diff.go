package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/4ndry11/zvnews/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens
// or API keys).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		oldCfg.Telegram.AdminChat != newCfg.Telegram.AdminChat ||
		(strings.TrimSpace(oldCfg.Telegram.Token) != "") != (strings.TrimSpace(newCfg.Telegram.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Bool("telegram.admin_chat_set", strings.TrimSpace(newCfg.Telegram.AdminChat) != ""),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		)
	}

	// Logging
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.Telegram.Enabled != newCfg.Logging.Telegram.Enabled ||
		oldCfg.Logging.Telegram.MinLevel != newCfg.Logging.Telegram.MinLevel ||
		oldCfg.Logging.Telegram.RatePerSec != newCfg.Logging.Telegram.RatePerSec {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	// Source (never log api_key)
	if strings.TrimSpace(oldCfg.Source.BaseURL) != strings.TrimSpace(newCfg.Source.BaseURL) ||
		strings.TrimSpace(oldCfg.Source.Timeout) != strings.TrimSpace(newCfg.Source.Timeout) ||
		oldCfg.Source.MaxResults != newCfg.Source.MaxResults ||
		!reflect.DeepEqual(oldCfg.Source.Queries, newCfg.Source.Queries) ||
		(strings.TrimSpace(oldCfg.Source.APIKey) != "") != (strings.TrimSpace(newCfg.Source.APIKey) != "") {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.Bool("source.api_key_set", strings.TrimSpace(newCfg.Source.APIKey) != ""),
			logx.String("source.timeout", strings.TrimSpace(newCfg.Source.Timeout)),
			logx.Int("source.max_results", newCfg.Source.MaxResults),
			logx.Int("source.query_count", len(newCfg.Source.Queries)),
		)
	}

	// Translate
	if oldCfg.Translate.Enabled != newCfg.Translate.Enabled ||
		strings.TrimSpace(oldCfg.Translate.TargetLang) != strings.TrimSpace(newCfg.Translate.TargetLang) ||
		strings.TrimSpace(oldCfg.Translate.BaseURL) != strings.TrimSpace(newCfg.Translate.BaseURL) ||
		strings.TrimSpace(oldCfg.Translate.Timeout) != strings.TrimSpace(newCfg.Translate.Timeout) {
		changed = append(changed, "translate")
		attrs = append(attrs,
			logx.Bool("translate.enabled", newCfg.Translate.Enabled),
			logx.String("translate.target_lang", strings.TrimSpace(newCfg.Translate.TargetLang)),
		)
	}

	// Monitor
	if oldCfg.Monitor.Enabled != newCfg.Monitor.Enabled ||
		strings.TrimSpace(oldCfg.Monitor.Schedule) != strings.TrimSpace(newCfg.Monitor.Schedule) ||
		strings.TrimSpace(oldCfg.Monitor.Window) != strings.TrimSpace(newCfg.Monitor.Window) ||
		oldCfg.Monitor.SweepEvery != newCfg.Monitor.SweepEvery {
		changed = append(changed, "monitor")
		attrs = append(attrs,
			logx.Bool("monitor.enabled", newCfg.Monitor.Enabled),
			logx.String("monitor.schedule", strings.TrimSpace(newCfg.Monitor.Schedule)),
			logx.String("monitor.window", strings.TrimSpace(newCfg.Monitor.Window)),
			logx.Int("monitor.sweep_every", newCfg.Monitor.SweepEvery),
		)
	}

	// Dedup
	if strings.TrimSpace(oldCfg.Dedup.ExactWindow) != strings.TrimSpace(newCfg.Dedup.ExactWindow) ||
		strings.TrimSpace(oldCfg.Dedup.FuzzyWindow) != strings.TrimSpace(newCfg.Dedup.FuzzyWindow) ||
		oldCfg.Dedup.Similarity != newCfg.Dedup.Similarity ||
		strings.TrimSpace(oldCfg.Dedup.Retention) != strings.TrimSpace(newCfg.Dedup.Retention) {
		changed = append(changed, "dedup")
		attrs = append(attrs,
			logx.String("dedup.exact_window", strings.TrimSpace(newCfg.Dedup.ExactWindow)),
			logx.String("dedup.fuzzy_window", strings.TrimSpace(newCfg.Dedup.FuzzyWindow)),
			logx.Float64("dedup.similarity", newCfg.Dedup.Similarity),
		)
	}

	// Broadcast
	if oldCfg.Broadcast.RatePerSec != newCfg.Broadcast.RatePerSec ||
		strings.TrimSpace(oldCfg.Broadcast.PerChatInterval) != strings.TrimSpace(newCfg.Broadcast.PerChatInterval) {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Int("broadcast.rate_per_sec", newCfg.Broadcast.RatePerSec),
			logx.String("broadcast.per_chat_interval", strings.TrimSpace(newCfg.Broadcast.PerChatInterval)),
		)
	}

	// Storage (persistence). Nil means disabled.
	oldS := oldCfg.Storage
	newS := newCfg.Storage
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldS != nil {
		oDriver = strings.TrimSpace(oldS.Driver)
		oBusy = strings.TrimSpace(oldS.BusyTimeout)
		oPathSet = strings.TrimSpace(oldS.Path) != ""
	}
	if newS != nil {
		nDriver = strings.TrimSpace(newS.Driver)
		nBusy = strings.TrimSpace(newS.BusyTimeout)
		nPathSet = strings.TrimSpace(newS.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Debug server (never log token)
	if oldCfg.Debug.Enabled != newCfg.Debug.Enabled ||
		strings.TrimSpace(oldCfg.Debug.Addr) != strings.TrimSpace(newCfg.Debug.Addr) ||
		strings.TrimSpace(oldCfg.Debug.Prefix) != strings.TrimSpace(newCfg.Debug.Prefix) ||
		oldCfg.Debug.AllowInsecure != newCfg.Debug.AllowInsecure ||
		strings.TrimSpace(oldCfg.Debug.ReadTimeout) != strings.TrimSpace(newCfg.Debug.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Debug.WriteTimeout) != strings.TrimSpace(newCfg.Debug.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Debug.IdleTimeout) != strings.TrimSpace(newCfg.Debug.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Debug.Token) != "") != (strings.TrimSpace(newCfg.Debug.Token) != "") {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.String("debug.prefix", strings.TrimSpace(newCfg.Debug.Prefix)),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
			logx.Bool("debug.allow_insecure", newCfg.Debug.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
