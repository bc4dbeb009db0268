/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// inspectord is the inspection control plane. It serves the REST API,
// drives server-executed inspection runs, coordinates external agents, and
// emits reports for finalised runs.
//
// Runs as a standalone binary. State lives under the data directory
// (embedded SQLite, staged kubeconfigs, rendered reports) unless
// INSPECTD_DATABASE_URL points at an external Postgres/MySQL instance.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qen-labs/inspectord/internal/agentcoord"
	"github.com/qen-labs/inspectord/internal/checkengine"
	"github.com/qen-labs/inspectord/internal/clusterprobe"
	"github.com/qen-labs/inspectord/internal/config"
	"github.com/qen-labs/inspectord/internal/httpapi"
	"github.com/qen-labs/inspectord/internal/license"
	"github.com/qen-labs/inspectord/internal/maintenance"
	"github.com/qen-labs/inspectord/internal/report"
	"github.com/qen-labs/inspectord/internal/runorchestrator"
	"github.com/qen-labs/inspectord/internal/store"
	"github.com/qen-labs/inspectord/internal/telemetry"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("inspectord %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("inspectord exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if cfg.TraceEndpoint != "" {
		shutdown, err := telemetry.InitTraceProvider(ctx, cfg.TraceEndpoint, version)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("trace provider shutdown", zap.Error(err))
			}
		}()
	}

	st, dbPath, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	guard := license.NewGuard([]byte(cfg.LicenseSecret))
	loadInstalledLicense(guard, cfg.DataDir, logger)

	engine := checkengine.New(logger)
	emitter := report.New(st, guard, cfg.DataDir, logger)
	prober := clusterprobe.New(st, logger)
	coordinator := agentcoord.New(st, logger,
		agentcoord.WithLeaseTTL(cfg.AgentLeaseTTL),
		agentcoord.WithEmitter(emitter),
	)
	orchestrator := runorchestrator.New(st, engine, guard, logger,
		runorchestrator.WithEmitter(emitter),
	)

	go coordinator.RunSweepLoop(ctx, cfg.LeaseSweepInterval)

	janitor := maintenance.New(st, logger, maintenance.Options{
		Schedule:       cfg.MaintenanceSchedule,
		DBPath:         dbPath,
		BackupMaxAge:   cfg.BackupMaxAge,
		AuditRetention: cfg.AuditRetention,
	})
	janitor.Start()
	defer janitor.Stop()

	server := httpapi.New(cfg.ListenAddr, httpapi.Deps{
		Store:        st,
		Guard:        guard,
		Prober:       prober,
		Coordinator:  coordinator,
		Orchestrator: orchestrator,
		Emitter:      emitter,
		DataDir:      cfg.DataDir,
		Logger:       logger,
	})

	logger.Info("starting inspectord",
		zap.String("addr", cfg.ListenAddr),
		zap.String("data_dir", cfg.DataDir),
		zap.String("version", version),
	)

	err = server.Run(ctx)

	// Let in-flight server-executed runs observe cancellation and record
	// their terminal rows before the store closes under them.
	orchestrator.Wait()
	return err
}

// openStore opens the embedded SQLite store under the data directory, or an
// external database when DATABASE_URL is set. The returned dbPath is empty
// for external backends, which disables file-level backup maintenance.
func openStore(cfg config.Config) (*store.Store, string, error) {
	if cfg.UsesExternalDatabase() {
		driver, dsn, err := driverForURL(cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		st, err := store.OpenDSN(driver, dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open external database: %w", err)
		}
		return st, "", nil
	}

	dbPath := filepath.Join(cfg.DataDir, "inspectord.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("open embedded database: %w", err)
	}
	return st, dbPath, nil
}

// driverForURL picks the database/sql driver from the URL scheme. pgx takes
// postgres URLs verbatim; the mysql driver wants a bare DSN, so its scheme
// prefix is stripped.
func driverForURL(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url, nil
	case strings.HasPrefix(url, "mysql://"):
		return "mysql", strings.TrimPrefix(url, "mysql://"), nil
	default:
		return "", "", fmt.Errorf("unsupported database url scheme in %q (want postgres:// or mysql://)", url)
	}
}

// loadInstalledLicense re-activates a license blob persisted by a previous
// /license/upload so a restart does not silently drop the installed license.
func loadInstalledLicense(guard *license.Guard, dataDir string, logger *zap.Logger) {
	path := filepath.Join(dataDir, httpapi.LicenseFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("could not read persisted license", zap.String("path", path), zap.Error(err))
		}
		return
	}
	status, err := guard.Install(strings.TrimSpace(string(data)))
	if err != nil {
		logger.Warn("persisted license blob is unparseable", zap.String("path", path), zap.Error(err))
		return
	}
	if !status.Valid {
		logger.Warn("persisted license is not currently valid", zap.String("reason", status.Reason))
		return
	}
	logger.Info("license loaded", zap.String("licensee", status.Payload.Licensee))
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
