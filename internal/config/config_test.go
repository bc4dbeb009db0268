package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.ListenAddr)
	}
	if cfg.DataDir != "/app/data" {
		t.Errorf("expected /app/data, got %s", cfg.DataDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info, got %s", cfg.LogLevel)
	}
	if cfg.AgentLeaseTTL != 5*time.Minute {
		t.Errorf("expected 5m lease ttl, got %s", cfg.AgentLeaseTTL)
	}
	if cfg.LeaseSweepInterval != 30*time.Second {
		t.Errorf("expected 30s sweep interval, got %s", cfg.LeaseSweepInterval)
	}
	if cfg.UsesExternalDatabase() {
		t.Error("default should use the embedded store")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{
		"listen_addr": ":9090",
		"data_dir": "/tmp/test",
		"database_url": "postgres://user:pass@db/inspectord",
		"license_secret": "topsecret",
		"default_prometheus_url": "http://prom.internal:9090"
	}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("expected :9090, got %s", cfg.ListenAddr)
	}
	if cfg.DataDir != "/tmp/test" {
		t.Errorf("expected /tmp/test, got %s", cfg.DataDir)
	}
	if !cfg.UsesExternalDatabase() {
		t.Error("expected external database to be detected")
	}
	if cfg.LicenseSecret != "topsecret" {
		t.Errorf("expected license secret to load, got %s", cfg.LicenseSecret)
	}
	if cfg.DefaultPrometheusURL != "http://prom.internal:9090" {
		t.Errorf("unexpected default prometheus url: %s", cfg.DefaultPrometheusURL)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"listen_addr": ":9090"}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("INSPECTD_LISTEN_ADDR", ":7070")
	t.Setenv("INSPECTD_AGENT_LEASE_TTL", "90s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ListenAddr != ":7070" {
		t.Errorf("env should override file: got %s", cfg.ListenAddr)
	}
	if cfg.AgentLeaseTTL != 90*time.Second {
		t.Errorf("env should override lease ttl: got %s", cfg.AgentLeaseTTL)
	}
}

func TestLoadFromEnvOnly(t *testing.T) {
	t.Setenv("INSPECTD_DATA_DIR", "/tmp/env-test")
	t.Setenv("INSPECTD_LOG_LEVEL", "debug")
	t.Setenv("INSPECTD_DATABASE_URL", "mysql://user:pass@db/inspectord")
	t.Setenv("INSPECTD_LEASE_SWEEP_INTERVAL", "10s")

	cfg := LoadFromEnv()
	if cfg.DataDir != "/tmp/env-test" {
		t.Errorf("expected /tmp/env-test, got %s", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug, got %s", cfg.LogLevel)
	}
	if !cfg.UsesExternalDatabase() {
		t.Error("expected external database to be detected from env")
	}
	if cfg.LeaseSweepInterval != 10*time.Second {
		t.Errorf("expected 10s sweep interval, got %s", cfg.LeaseSweepInterval)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.json")

	cfg := Default()
	cfg.ListenAddr = ":3000"
	cfg.LicenseSecret = "s3cr3t"

	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if loaded.ListenAddr != ":3000" {
		t.Errorf("expected :3000, got %s", loaded.ListenAddr)
	}
	if loaded.LicenseSecret != "s3cr3t" {
		t.Errorf("expected license secret to round-trip, got %s", loaded.LicenseSecret)
	}
}
