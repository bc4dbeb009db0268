/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package httpapi exposes the Inspection Orchestration Core over HTTP:
// cluster and inspection-item CRUD, run admission and detail, license
// management, the bearer-token-authenticated agent plane, and the
// audit log (listing, export, and pruning by age). main() builds a Server, calls Run, done.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/qen-labs/inspectord/internal/agentcoord"
	"github.com/qen-labs/inspectord/internal/clusterprobe"
	"github.com/qen-labs/inspectord/internal/license"
	"github.com/qen-labs/inspectord/internal/report"
	"github.com/qen-labs/inspectord/internal/runorchestrator"
	"github.com/qen-labs/inspectord/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the assembled HTTP API.
type Server struct {
	store        *store.Store
	guard        *license.Guard
	prober       *clusterprobe.Prober
	coordinator  *agentcoord.Coordinator
	orchestrator *runorchestrator.Orchestrator
	emitter      *report.Emitter
	logger       *zap.Logger
	dataDir      string

	httpServer *http.Server
}

// Deps bundles the subsystems a Server dispatches to. All fields are
// required except Emitter, which gates report downloads via license alone
// when absent (Emit is invoked by the orchestrator/coordinator, not here).
type Deps struct {
	Store        *store.Store
	Guard        *license.Guard
	Prober       *clusterprobe.Prober
	Coordinator  *agentcoord.Coordinator
	Orchestrator *runorchestrator.Orchestrator
	Emitter      *report.Emitter
	DataDir      string
	Logger       *zap.Logger
}

// New assembles a Server bound to addr.
func New(addr string, d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:        d.Store,
		guard:        d.Guard,
		prober:       d.Prober,
		coordinator:  d.Coordinator,
		orchestrator: d.Orchestrator,
		emitter:      d.Emitter,
		logger:       logger,
		dataDir:      d.DataDir,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	var handler http.Handler = maxBodySizeMiddleware(mux)
	handler = otelhttp.NewHandler(handler, "inspectord")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /clusters", s.handleListClusters)
	mux.HandleFunc("POST /clusters", s.handleCreateCluster)
	mux.HandleFunc("GET /clusters/{id}", s.handleGetCluster)
	mux.HandleFunc("PUT /clusters/{id}", s.handleUpdateCluster)
	mux.HandleFunc("DELETE /clusters/{id}", s.handleDeleteCluster)
	mux.HandleFunc("POST /clusters/{id}/test-connection", s.handleTestConnection)

	mux.HandleFunc("GET /inspection-items", s.handleListItems)
	mux.HandleFunc("POST /inspection-items", s.handleCreateItem)
	mux.HandleFunc("GET /inspection-items/export", s.handleExportItems)
	mux.HandleFunc("POST /inspection-items/import", s.handleImportItems)
	mux.HandleFunc("GET /inspection-items/{id}", s.handleGetItem)
	mux.HandleFunc("PUT /inspection-items/{id}", s.handleUpdateItem)
	mux.HandleFunc("DELETE /inspection-items/{id}", s.handleDeleteItem)

	mux.HandleFunc("GET /inspection-runs", s.handleListRuns)
	mux.HandleFunc("POST /inspection-runs", s.handleCreateRun)
	mux.HandleFunc("GET /inspection-runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /inspection-runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("POST /inspection-runs/{id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /inspection-runs/{id}/report", s.handleDownloadReport)

	mux.HandleFunc("GET /license/status", s.handleLicenseStatus)
	mux.HandleFunc("POST /license/upload", s.handleLicenseUpload)

	mux.HandleFunc("POST /agents", s.handleRegisterAgent)
	mux.HandleFunc("POST /agents/{id}/rotate-token", s.handleRotateAgentToken)
	mux.HandleFunc("POST /agents/{id}/heartbeat", s.withAgentAuth(s.handleAgentHeartbeat))
	mux.HandleFunc("GET /agents/{id}/tasks", s.withAgentAuth(s.handleAgentPullTasks))
	mux.HandleFunc("POST /agents/{id}/results", s.withAgentAuth(s.handleAgentSubmitResult))
	mux.HandleFunc("POST /agents/{id}/run-failure", s.withAgentAuth(s.handleAgentRunFailure))

	mux.HandleFunc("GET /audit-logs", s.handleListAudit)
	mux.HandleFunc("GET /audit-logs/export", s.handleExportAudit)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting inspectord http api", zap.String("addr", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http api...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Close releases the underlying listener without waiting out Run's
// graceful-shutdown timeout. Used by tests that never call Run.
func (s *Server) Close() error {
	return s.httpServer.Close()
}
