package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadConfig(t *testing.T) {
	d := t.TempDir()
	cfg := DefaultConfig()
	cfg.Store.Path = filepath.Join(d, "store.db")
	path := filepath.Join(d, "config.json")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Store.Path != cfg.Store.Path {
		t.Fatalf("store path mismatch: got %s want %s", loaded.Store.Path, cfg.Store.Path)
	}
	if loaded.Pacing.TimingMode != "auto" {
		t.Fatalf("expected default timing mode auto, got %q", loaded.Pacing.TimingMode)
	}
	if loaded.Session.DefaultBrowser != "chrome" {
		t.Fatalf("expected default browser chrome, got %q", loaded.Session.DefaultBrowser)
	}
}

func TestDefaultConfig_PacingBounds(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Pacing.MinDelaySeconds >= cfg.Pacing.MaxDelaySeconds {
		t.Fatalf("expected MinDelaySeconds < MaxDelaySeconds, got %v >= %v",
			cfg.Pacing.MinDelaySeconds, cfg.Pacing.MaxDelaySeconds)
	}
	if cfg.Pacing.AfterMessageCount <= 0 {
		t.Fatalf("expected a positive AfterMessageCount, got %d", cfg.Pacing.AfterMessageCount)
	}
	if cfg.Session.SendsPerMinute <= 0 {
		t.Fatalf("expected a positive SendsPerMinute, got %v", cfg.Session.SendsPerMinute)
	}
}

func TestConfigRoundTripsArbitraryOverrides(t *testing.T) {
	d := t.TempDir()
	cfg := Config{
		Store:  StoreConfig{Path: filepath.Join(d, "custom.db")},
		Pacing: PacingConfig{MinDelaySeconds: 5, MaxDelaySeconds: 9, AfterMessageCount: 50, PauseDurationMinutes: 15, TimingMode: "manual"},
		Session: SessionConfig{
			DeviceStorePath: filepath.Join(d, "sessions.db"),
			DefaultBrowser:  "firefox",
			SendsPerMinute:  12,
		},
	}
	path := filepath.Join(d, "config.json")
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved config failed: %v", err)
	}
	var parsed Config
	if err := json.Unmarshal(b, &parsed); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if parsed.Pacing.TimingMode != "manual" {
		t.Errorf("TimingMode = %q, want manual", parsed.Pacing.TimingMode)
	}
	if parsed.Session.DefaultBrowser != "firefox" {
		t.Errorf("DefaultBrowser = %q, want firefox", parsed.Session.DefaultBrowser)
	}
	if parsed.Session.SendsPerMinute != 12 {
		t.Errorf("SendsPerMinute = %v, want 12", parsed.Session.SendsPerMinute)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir available: %v", err)
	}
	got := ExpandHome("~/.morsel/store.db")
	want := filepath.Join(home, ".morsel", "store.db")
	if got != want {
		t.Fatalf("ExpandHome = %q, want %q", got, want)
	}
	if got := ExpandHome("/already/absolute"); got != "/already/absolute" {
		t.Fatalf("ExpandHome should not touch absolute paths, got %q", got)
	}
}

func TestOnboardWritesConfigAndStorePaths(t *testing.T) {
	d := t.TempDir()
	t.Setenv("HOME", d)

	cfgPath, storePath, err := Onboard()
	if err != nil {
		t.Fatalf("Onboard failed: %v", err)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("expected config file at %s, err=%v", cfgPath, err)
	}

	loaded, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Store.Path != storePath {
		t.Fatalf("Store.Path = %q, want %q", loaded.Store.Path, storePath)
	}
}
