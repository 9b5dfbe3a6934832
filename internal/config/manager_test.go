package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
telegram:
  token: "t"
  chat_id: 42
logging:
  level: DEBUG
  console: true
  file:
    enabled: false
  telegram:
    enabled: false
feed:
  addr: "127.0.0.1:6379"
  owner_id: "owner-1"
engine:
  notify_kinds: ["out_of_range"]
  dedup_window: "10s"
  auto_dismiss: "5s"
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.ChatID != 42 {
		t.Fatalf("ChatID = %d, want 42", cfg.Telegram.ChatID)
	}
	if cfg.Feed.OwnerID != "owner-1" {
		t.Fatalf("OwnerID = %q", cfg.Feed.OwnerID)
	}
	if len(cfg.Engine.NotifyKinds) != 1 || cfg.Engine.NotifyKinds[0] != "out_of_range" {
		t.Fatalf("NotifyKinds = %v", cfg.Engine.NotifyKinds)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"telegram":{"token":"t","chat_id":1},"logging":{"level":"INFO","console":true,"file":{"enabled":false},"telegram":{"enabled":false}},"feed":{"addr":"x","owner_id":"o"},"engine":{},"mystery":{}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("engine.dedup_window", "10s")
	if err != nil || d.Seconds() != 10 {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("engine.dedup_window", "ten seconds"); err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if d, err := ParseDurationOrDefault("engine.auto_dismiss", "", 5000); err != nil || d != 5000 {
		t.Fatalf("default not applied: %v, %v", d, err)
	}
}

func TestChangedSections(t *testing.T) {
	t.Parallel()
	a := &Config{}
	b := &Config{}
	b.Engine.DedupWindow = "20s"
	b.Feed.OwnerID = "other"
	got := ChangedSections(a, b)
	if len(got) != 2 || got[0] != "feed" || got[1] != "engine" {
		t.Fatalf("ChangedSections = %v", got)
	}
	if got := ChangedSections(a, a); got != nil {
		t.Fatalf("expected no changes, got %v", got)
	}
}
