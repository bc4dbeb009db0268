// Package config provides configuration loading for inspectord.
// Configuration sources, in priority order: env vars > config file > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all control-plane configuration.
type Config struct {
	// ListenAddr is the HTTP bind address (default ":8080").
	ListenAddr string `json:"listen_addr"`
	// DataDir holds the embedded SQLite database, staged kubeconfigs, and
	// generated reports (default "/app/data").
	DataDir string `json:"data_dir"`

	// DatabaseURL, when set, points at an external Postgres or MySQL
	// instance instead of the embedded SQLite file. The scheme selects
	// the driver: postgres:// or mysql://.
	DatabaseURL string `json:"database_url,omitempty"`

	// LicenseSecret is the HMAC key the License Guard verifies installed
	// license blobs against.
	LicenseSecret string `json:"license_secret,omitempty"`

	// DefaultPrometheusURL is loaded from the file or environment but is
	// not read by the server: a new cluster gets only the Prometheus
	// endpoint given when it is created.
	DefaultPrometheusURL string `json:"default_prometheus_url,omitempty"`

	// AgentLeaseTTL bounds how long a claimed run holds its lease before
	// the sweeper detaches it back to queued.
	AgentLeaseTTL time.Duration `json:"agent_lease_ttl"`

	// LeaseSweepInterval is how often the sweeper loop runs.
	LeaseSweepInterval time.Duration `json:"lease_sweep_interval"`

	// MaintenanceSchedule is when the housekeeping sweep (database backup,
	// backup expiry, audit retention) fires: a Go duration ("24h") or a
	// standard cron expression ("0 3 * * *"). Empty disables it.
	MaintenanceSchedule string `json:"maintenance_schedule"`

	// BackupMaxAge prunes database backups older than this during the
	// maintenance sweep.
	BackupMaxAge time.Duration `json:"backup_max_age"`

	// AuditRetention prunes audit entries older than this during the
	// maintenance sweep. Zero keeps the log forever.
	AuditRetention time.Duration `json:"audit_retention"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// ExternalURL is loaded from the file or environment but is not read
	// by the server; audit log exports carry no links.
	ExternalURL string `json:"external_url,omitempty"`

	// TraceEndpoint is the OTLP/gRPC collector address spans are exported
	// to. Empty disables tracing entirely.
	TraceEndpoint string `json:"trace_endpoint,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:          ":8080",
		DataDir:             "/app/data",
		AgentLeaseTTL:       5 * time.Minute,
		LeaseSweepInterval:  30 * time.Second,
		MaintenanceSchedule: "0 3 * * *",
		BackupMaxAge:        7 * 24 * time.Hour,
		LogLevel:            "info",
	}
}

// Load reads configuration from a JSON file, if path is non-empty, then
// overlays environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := os.Getenv("INSPECTD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	// The short forms are the documented deployment interface; the
	// INSPECTD_-prefixed forms win when both are set.
	if v := envFirst("INSPECTD_DATA_DIR", "DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := envFirst("INSPECTD_DATABASE_URL", "DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := envFirst("INSPECTD_LICENSE_SECRET", "LICENSE_SECRET"); v != "" {
		cfg.LicenseSecret = v
	}
	if v := envFirst("INSPECTD_DEFAULT_PROMETHEUS_URL", "PROMETHEUS_URL"); v != "" {
		cfg.DefaultPrometheusURL = v
	}
	if v := os.Getenv("INSPECTD_AGENT_LEASE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AgentLeaseTTL = d
		}
	}
	if v := os.Getenv("INSPECTD_LEASE_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LeaseSweepInterval = d
		}
	}
	if v := os.Getenv("INSPECTD_MAINTENANCE_SCHEDULE"); v != "" {
		cfg.MaintenanceSchedule = v
	}
	if v := os.Getenv("INSPECTD_BACKUP_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.BackupMaxAge = d
		}
	}
	if v := os.Getenv("INSPECTD_AUDIT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.AuditRetention = d
		}
	}
	if v := os.Getenv("INSPECTD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("INSPECTD_EXTERNAL_URL"); v != "" {
		cfg.ExternalURL = v
	}
	if v := os.Getenv("INSPECTD_OTEL_ENDPOINT"); v != "" {
		cfg.TraceEndpoint = v
	}

	return cfg, nil
}

// envFirst returns the first non-empty value among the named environment
// variables.
func envFirst(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}

// UsesExternalDatabase reports whether DatabaseURL overrides the embedded
// SQLite store.
func (c Config) UsesExternalDatabase() bool {
	return c.DatabaseURL != ""
}
