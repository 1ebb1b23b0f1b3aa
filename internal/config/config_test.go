package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.ListenAddr)
	}
	if cfg.HistorySize != 100 {
		t.Errorf("expected history 100, got %d", cfg.HistorySize)
	}
	if cfg.Heartbeat.Std() != 30*time.Second {
		t.Errorf("expected 30s heartbeat, got %s", cfg.Heartbeat)
	}
	if len(cfg.Channels) != 2 {
		t.Errorf("expected 2 seeded channels, got %d", len(cfg.Channels))
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9000"
redis_addr: "localhost:6379"
history_size: 50
max_conns: 200
heartbeat: 10s
session_rate_limit: 5
session_rate_window: 30s
channels:
  - name: dev
    description: Engineering chatter
  - name: announcements
    locked: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("expected :9000, got %s", cfg.ListenAddr)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("unexpected redis addr: %s", cfg.RedisAddr)
	}
	if cfg.HistorySize != 50 || cfg.MaxConns != 200 {
		t.Errorf("unexpected limits: %d/%d", cfg.HistorySize, cfg.MaxConns)
	}
	if cfg.Heartbeat.Std() != 10*time.Second {
		t.Errorf("expected 10s heartbeat, got %s", cfg.Heartbeat)
	}
	if cfg.SessionRateWindow.Std() != 30*time.Second {
		t.Errorf("expected 30s window, got %s", cfg.SessionRateWindow)
	}
	if len(cfg.Channels) != 2 || cfg.Channels[0].Name != "dev" {
		t.Errorf("unexpected channels: %+v", cfg.Channels)
	}
	if cfg.Channels[0].Locked {
		t.Error("dev should not be locked")
	}
	if !cfg.Channels[1].Locked {
		t.Error("announcements should be locked")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, "heartbeat: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "listen_addr: \":9000\"\nhistory_size: 50\n")

	t.Setenv("SIGNALCHAT_LISTEN_ADDR", ":7777")
	t.Setenv("SIGNALCHAT_HISTORY_SIZE", "25")
	t.Setenv("SIGNALCHAT_HEARTBEAT", "5s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("env should win, got %s", cfg.ListenAddr)
	}
	if cfg.HistorySize != 25 {
		t.Errorf("env should win, got %d", cfg.HistorySize)
	}
	if cfg.Heartbeat.Std() != 5*time.Second {
		t.Errorf("env should win, got %s", cfg.Heartbeat)
	}
}

func TestEnvInvalidNumber(t *testing.T) {
	t.Setenv("SIGNALCHAT_MAX_CONNS", "many")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric SIGNALCHAT_MAX_CONNS")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "history_size: 0\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for zero history_size")
	}

	path = writeConfig(t, "max_conns: -1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative max_conns")
	}
}
