package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
telegram:
  token: "123456:abc"
  admin_chat: -100123
  poll_timeout: "25s"
logging:
  level: debug
  console: true
source:
  api_key: "k"
  max_results: 10
  queries:
    - query: "bank failure"
      lang: en
      topic: "Banks"
monitor:
  enabled: true
  schedule: "@every 30m"
  window: "1h"
storage:
  driver: file
  path: ./data
`)

	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.Token != "123456:abc" {
		t.Fatalf("Token = %q, want %q", cfg.Telegram.Token, "123456:abc")
	}
	if cfg.Telegram.AdminChat != -100123 {
		t.Fatalf("AdminChat = %d, want -100123", cfg.Telegram.AdminChat)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if len(cfg.Source.Queries) != 1 || cfg.Source.Queries[0].Topic != "Banks" {
		t.Fatalf("unexpected queries: %+v", cfg.Source.Queries)
	}
	if cfg.Monitor.Schedule != "@every 30m" {
		t.Fatalf("Schedule = %q", cfg.Monitor.Schedule)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("unexpected storage: %+v", cfg.Storage)
	}
}

func TestParseJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"telegram":{"token":"t"},"monitor":{"enabled":true}}`)

	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Telegram.Token != "t" || !cfg.Monitor.Enabled {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "telegram:\n  token: t\n  bogus_knob: 1\n")

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.json", `{"telegram":{"token":"t"}} {"extra":true}`)

	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestLoadCommitGet(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "telegram:\n  token: t\n")

	m := NewManager(path)
	if got := m.Get(); got != nil {
		t.Fatalf("Get before Load = %+v, want nil", got)
	}
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed snapshot")
	}
}

func TestSubscribePublishUnsubscribe(t *testing.T) {
	t.Parallel()
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatal("received unexpected config")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published config")
	}

	// Full buffer: oldest is dropped, newest delivered.
	first := &Config{Debug: DebugConfig{Enabled: true}}
	second := &Config{}
	m.publish(first)
	m.publish(second)
	select {
	case got := <-ch:
		if got != second {
			t.Fatal("expected newest config after overflow")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for newest config")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(cfg)
}

func TestHashBytes(t *testing.T) {
	t.Parallel()
	if hashBytes(nil) != 0 {
		t.Fatal("hash of empty input should be 0")
	}
	a := hashBytes([]byte("abc"))
	b := hashBytes([]byte("abc"))
	c := hashBytes([]byte("abd"))
	if a != b {
		t.Fatal("hash should be stable")
	}
	if a == c {
		t.Fatal("different content should hash differently")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{name: "empty", raw: "", want: 0},
		{name: "simple", raw: "15s", want: 15 * time.Second},
		{name: "spaces", raw: "  1h  ", want: time.Hour},
		{name: "negative", raw: "-5s", wantErr: true},
		{name: "garbage", raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDurationField("x", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDurationField(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDurationField(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("got = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	got, err := ParseDurationOrDefault("x", "", 42*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 42*time.Second {
		t.Fatalf("got = %v, want default 42s", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{}
	newCfg := &Config{
		Telegram: TelegramConfig{Token: "secret", AdminChat: 7},
		Monitor:  MonitorConfig{Enabled: true, Schedule: "@every 15m"},
		Storage:  &StorageConfig{Driver: "sqlite", Path: "./db"},
	}

	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	want := map[string]bool{"telegram": true, "monitor": true, "storage": true}
	if len(changed) != len(want) {
		t.Fatalf("changed = %v, want sections %v", changed, want)
	}
	for _, s := range changed {
		if !want[s] {
			t.Fatalf("unexpected section %q in %v", s, changed)
		}
	}
	if len(attrs) == 0 {
		t.Fatal("expected log attrs for changed sections")
	}

	// Same config both sides: nothing changed.
	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want empty", changed)
	}
}
