package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr :8080, got %q", cfg.ListenAddr)
	}
	if cfg.LockLease != 10*time.Second {
		t.Fatalf("expected default lock lease 10s, got %s", cfg.LockLease)
	}
	if cfg.NextHandDelay != 5*time.Second {
		t.Fatalf("expected default next hand delay 5s, got %s", cfg.NextHandDelay)
	}
	if cfg.Currency != "USD" || cfg.HouseUserID != "house" {
		t.Fatalf("expected default currency/house, got %q/%q", cfg.Currency, cfg.HouseUserID)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "feltd.yaml")
	body := "listen_addr: \":9999\"\nqueue_name: custom\naction_timeout: 12s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("expected :9999, got %q", cfg.ListenAddr)
	}
	if cfg.QueueName != "custom" {
		t.Fatalf("expected queue custom, got %q", cfg.QueueName)
	}
	if cfg.ActionTimeout != 12*time.Second {
		t.Fatalf("expected 12s action timeout, got %s", cfg.ActionTimeout)
	}
	// Untouched keys keep defaults.
	if cfg.Currency != "USD" {
		t.Fatalf("expected default currency, got %q", cfg.Currency)
	}
}

func TestLoad_MissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}
