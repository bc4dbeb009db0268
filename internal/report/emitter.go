/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package report

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/qen-labs/inspectord/internal/license"
	"github.com/qen-labs/inspectord/internal/store"
)

// Emitter writes Markdown and PDF report artifacts for finished runs.
type Emitter struct {
	store   *store.Store
	guard   *license.Guard
	dataDir string
	logger  *zap.Logger
}

// New creates an Emitter. Artifacts are written under dataDir/reports.
func New(st *store.Store, guard *license.Guard, dataDir string, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{store: st, guard: guard, dataDir: dataDir, logger: logger}
}

// Emit renders and writes both artifacts for a finished run, records the
// Markdown path on the run row, and never returns an error to a caller
// that only wants the run's own status to be correct: failures are logged
// and audited, not propagated.
func (e *Emitter) Emit(run store.InspectionRun, cluster store.Cluster) {
	if err := e.guard.RequireFeature(license.FeatureReports); err != nil {
		e.logger.Info("report emission skipped: reports feature not licensed", zap.String("run_id", run.ID))
		return
	}

	results, err := e.store.GetResults(run.ID)
	if err != nil {
		e.recordFailure(run.ID, fmt.Errorf("load results: %w", err))
		return
	}

	dir := filepath.Join(e.dataDir, "reports")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.recordFailure(run.ID, fmt.Errorf("create reports dir: %w", err))
		return
	}

	markdown, err := RenderMarkdown(run, cluster, results)
	if err != nil {
		e.recordFailure(run.ID, err)
		return
	}
	mdPath := filepath.Join(dir, run.ID+".md")
	if err := os.WriteFile(mdPath, markdown, 0o644); err != nil {
		e.recordFailure(run.ID, fmt.Errorf("write markdown report: %w", err))
		return
	}

	pdf, err := RenderPDF(run, cluster, results)
	if err != nil {
		e.recordFailure(run.ID, err)
		return
	}
	pdfPath := filepath.Join(dir, run.ID+".pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		e.recordFailure(run.ID, fmt.Errorf("write pdf report: %w", err))
		return
	}

	if err := e.store.SetRunReportPath(run.ID, mdPath); err != nil {
		e.logger.Warn("could not persist report path", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (e *Emitter) recordFailure(runID string, cause error) {
	e.logger.Warn("report emission failed", zap.String("run_id", runID), zap.Error(cause))
	if _, err := e.store.RecordAudit("system", "report.emit_failed", runID, cause.Error()); err != nil {
		e.logger.Error("could not record audit entry for report failure", zap.String("run_id", runID), zap.Error(err))
	}
}
