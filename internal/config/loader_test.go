package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, usedPath, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if usedPath != path {
		t.Fatalf("config path = %q, want %q", usedPath, path)
	}
	if cfg.Addr != Default().Addr {
		t.Fatalf("addr = %q, want default %q", cfg.Addr, Default().Addr)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := "addr: \":9999\"\nlog_level: debug\nhistory_limit: 10\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("addr = %q, want %q", cfg.Addr, ":9999")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q, want debug", cfg.LogLevel)
	}
	if cfg.HistoryLimit != 10 {
		t.Fatalf("history_limit = %d, want 10", cfg.HistoryLimit)
	}
	// Values absent from the file keep their defaults.
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Fatalf("shutdown_timeout = %v, want default", cfg.ShutdownTimeout)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("ROOMCAST_ADDR", ":7777")

	cfg, _, err := Load(nil, filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7777" {
		t.Fatalf("addr = %q, want env override %q", cfg.Addr, ":7777")
	}
}
