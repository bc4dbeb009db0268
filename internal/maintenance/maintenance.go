/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package maintenance runs the periodic housekeeping the server needs but no
// request triggers: database backups, backup expiry, and audit log
// retention.
package maintenance

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/qen-labs/inspectord/internal/migration"
	"github.com/qen-labs/inspectord/internal/store"
)

const tickInterval = time.Minute

// Options configures a Janitor. The zero value disables everything.
type Options struct {
	// Schedule is either a Go duration ("24h") or a standard five-field
	// cron expression ("0 3 * * *"). Empty disables scheduled runs.
	Schedule string
	// DBPath is the embedded SQLite file to back up before each sweep.
	// Empty (external database) skips the backup tasks.
	DBPath string
	// BackupMaxAge prunes backups older than this. Zero keeps them all.
	BackupMaxAge time.Duration
	// AuditRetention prunes audit entries older than this. Zero keeps
	// them all.
	AuditRetention time.Duration
}

// Janitor executes the maintenance sweep on its schedule.
type Janitor struct {
	store  *store.Store
	logger *zap.Logger
	opts   Options

	mu        sync.Mutex
	lastRunAt *time.Time
	createdAt time.Time

	done chan struct{}
	stop chan struct{}
	once sync.Once
}

// New creates a Janitor. A nil logger is replaced with a no-op logger.
func New(st *store.Store, logger *zap.Logger, opts Options) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		store:     st,
		logger:    logger,
		opts:      opts,
		createdAt: time.Now().UTC(),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
}

// Start launches the scheduling loop in a goroutine. The loop ticks once a
// minute and fires the sweep whenever the schedule is due.
func (j *Janitor) Start() {
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stop:
				return
			case now := <-ticker.C:
				j.maybeSweep(now.UTC())
			}
		}
	}()
}

// Stop terminates the loop and waits for an in-progress sweep to finish.
func (j *Janitor) Stop() {
	j.once.Do(func() { close(j.stop) })
	<-j.done
}

func (j *Janitor) maybeSweep(now time.Time) {
	j.mu.Lock()
	due, err := isScheduleDue(j.opts.Schedule, j.createdAt, j.lastRunAt, now)
	if err != nil {
		j.mu.Unlock()
		j.logger.Error("invalid maintenance schedule", zap.String("schedule", j.opts.Schedule), zap.Error(err))
		return
	}
	if !due {
		j.mu.Unlock()
		return
	}
	j.lastRunAt = &now
	j.mu.Unlock()

	j.Sweep(now)
}

// Sweep runs every maintenance task once, immediately. Failures are logged
// and the remaining tasks still run.
func (j *Janitor) Sweep(now time.Time) {
	if j.opts.DBPath != "" {
		if path, err := migration.BackupDatabase(j.opts.DBPath); err != nil {
			j.logger.Error("database backup failed", zap.Error(err))
		} else {
			j.logger.Info("database backed up", zap.String("path", path))
		}
		if j.opts.BackupMaxAge > 0 {
			if err := migration.CleanOldBackups(j.opts.DBPath, j.opts.BackupMaxAge); err != nil {
				j.logger.Error("backup cleanup failed", zap.Error(err))
			}
		}
	}

	if j.opts.AuditRetention > 0 {
		cutoff := now.Add(-j.opts.AuditRetention)
		n, err := j.store.PruneAuditOlderThan(cutoff)
		if err != nil {
			j.logger.Error("audit retention prune failed", zap.Error(err))
		} else if n > 0 {
			j.logger.Info("pruned audit entries", zap.Int64("count", n))
		}
	}
}

// isScheduleDue reports whether the schedule has a firing between the
// anchor (last run, or creation for a first run) and now. A schedule is
// either a plain Go duration or a standard cron expression; durations are
// tried first so "30m" never reaches the cron parser.
func isScheduleDue(schedule string, createdAt time.Time, lastRunAt *time.Time, now time.Time) (bool, error) {
	if schedule == "" {
		return false, nil
	}

	anchor := createdAt.UTC()
	if anchor.IsZero() {
		anchor = now.UTC()
	}
	if lastRunAt != nil {
		anchor = lastRunAt.UTC()
	}

	if interval, err := time.ParseDuration(schedule); err == nil {
		if interval <= 0 {
			return false, fmt.Errorf("interval must be > 0")
		}
		return !anchor.Add(interval).After(now.UTC()), nil
	}

	spec, err := cron.ParseStandard(schedule)
	if err != nil {
		return false, err
	}
	next := spec.Next(anchor)
	return !next.After(now.UTC()), nil
}
