/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package runorchestrator owns the Run lifecycle: admitting a new run,
// routing it to the server executor or an agent, driving server-executed
// runs to completion, and exposing cancel/finalise operations to the HTTP
// layer.
package runorchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qen-labs/inspectord/internal/checkengine"
	"github.com/qen-labs/inspectord/internal/license"
	"github.com/qen-labs/inspectord/internal/metrics"
	"github.com/qen-labs/inspectord/internal/report"
	"github.com/qen-labs/inspectord/internal/store"
	"github.com/qen-labs/inspectord/internal/telemetry"
)

// Orchestrator admits runs and drives the ones routed to the server
// executor. One Orchestrator is shared across the process lifetime.
type Orchestrator struct {
	store   *store.Store
	engine  *checkengine.Engine
	guard   *license.Guard
	logger  *zap.Logger
	emitter *report.Emitter

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // run id -> cancel for an in-flight server execution
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEmitter attaches a report Emitter invoked best-effort after every
// run finalisation. Without one, finalisation never renders an artefact.
func WithEmitter(e *report.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// New creates an Orchestrator.
func New(st *store.Store, engine *checkengine.Engine, guard *license.Guard, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		store:   st,
		engine:  engine,
		guard:   guard,
		logger:  logger,
		cancels: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// emitReport renders a run's report artefacts best-effort. A nil emitter
// (no report.Emitter attached) is a silent no-op, not an error: report
// rendering is optional ambient behaviour, never load-bearing for a run's
// own terminal status.
func (o *Orchestrator) emitReport(run store.InspectionRun, cluster store.Cluster) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(run, cluster)
}

// CreateRun admits a new run against cluster c for the given items, in
// submission order. The cluster's execution_mode decides routing: server
// runs start evaluating immediately in a background goroutine; agent runs
// are left queued for a future PullTasks call.
func (o *Orchestrator) CreateRun(ctx context.Context, c store.Cluster, items []store.InspectionItem, operator string) (store.InspectionRun, error) {
	if err := o.guard.RequireFeature(license.FeatureInspections); err != nil {
		return store.InspectionRun{}, err
	}
	if len(items) == 0 {
		return store.InspectionRun{}, fmt.Errorf("cannot create a run with zero items")
	}

	snapshots := make([]store.RunItemSnapshot, len(items))
	for i, it := range items {
		snapshots[i] = store.RunItemSnapshot{ItemID: it.ID, ItemName: it.Name, Sequence: i}
	}

	executor := c.ExecutionMode
	if executor == store.ExecutorAgent {
		if c.DefaultAgentID == "" {
			return store.InspectionRun{}, store.ErrAgentRequiredButAbsent
		}
		// A default agent that was deleted or disabled after the cluster
		// was configured must not strand the run in a queue nobody pulls
		// from; the cluster invariant says such a run falls back to the
		// server executor.
		agent, err := o.store.GetAgent(c.DefaultAgentID)
		if err != nil || !agent.IsEnabled {
			o.logger.Warn("default agent unavailable, falling back to server executor",
				zap.String("cluster_id", c.ID), zap.String("agent_id", c.DefaultAgentID))
			executor = store.ExecutorServer
		}
	}

	run, err := o.store.CreateRun(c.ID, operator, snapshots, executor)
	if err != nil {
		return store.InspectionRun{}, fmt.Errorf("create run: %w", err)
	}

	if _, err := o.store.RecordAudit(operator, "run.created", run.ID, fmt.Sprintf("%d item(s) against cluster %s", len(items), c.Name)); err != nil {
		o.logger.Warn("could not record audit entry for run creation", zap.String("run_id", run.ID), zap.Error(err))
	}

	switch executor {
	case store.ExecutorAgent:
		if err := o.store.SetRunAgent(run.ID, c.DefaultAgentID); err != nil {
			return store.InspectionRun{}, fmt.Errorf("assign agent to run: %w", err)
		}
		return o.store.GetRun(run.ID)
	default:
		o.startServerExecution(run.ID, c, items)
		return run, nil
	}
}

// startServerExecution launches the background goroutine that drives a
// server-executor run through every item. The run is tracked in o.cancels
// so Cancel can stop it cooperatively mid-flight.
func (o *Orchestrator) startServerExecution(runID string, cluster store.Cluster, items []store.InspectionItem) {
	execCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.cancels[runID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	metrics.ActiveRuns.Inc()
	go func() {
		defer o.wg.Done()
		defer metrics.ActiveRuns.Dec()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, runID)
			o.mu.Unlock()
			cancel()
		}()
		defer func() {
			if r := recover(); r != nil {
				o.recoverRunPanic(runID, r)
			}
		}()
		o.runServerExecution(execCtx, runID, cluster, items)
	}()
}

func (o *Orchestrator) runServerExecution(ctx context.Context, runID string, cluster store.Cluster, items []store.InspectionItem) {
	if err := o.store.StartRun(runID); err != nil {
		o.logger.Error("could not start run", zap.String("run_id", runID), zap.Error(err))
		return
	}
	started := time.Now()
	ctx, runSpan := telemetry.StartRunSpan(ctx, runID, cluster.ID, "server")

	engineCluster := checkengine.Cluster{
		ID:             cluster.ID,
		KubeconfigPath: cluster.KubeconfigPath,
		PrometheusURL:  cluster.PrometheusURL,
	}

	processed := 0
	for _, item := range items {
		select {
		case <-ctx.Done():
			if _, err := o.store.CancelRun(runID); err != nil {
				o.logger.Error("could not cancel run on stop", zap.String("run_id", runID), zap.Error(err))
			}
			metrics.RecordRunComplete("server", store.RunCancelled, time.Since(started))
			telemetry.EndRunSpan(runSpan, store.RunCancelled, len(items), processed)
			return
		default:
		}

		checkStarted := time.Now()
		_, checkSpan := telemetry.StartCheckSpan(ctx, item.CheckType, item.ID)
		result := o.engine.Evaluate(ctx, item, engineCluster)
		telemetry.EndCheckSpan(checkSpan, result.Status)
		metrics.RecordCheck(item.CheckType, result.Status, time.Since(checkStarted))
		if _, _, err := o.store.RecordResult(runID, item.ID, item.Name, result.Status, result.Detail, result.Suggestion); err != nil {
			o.logger.Error("could not record result", zap.String("run_id", runID), zap.String("item", item.Name), zap.Error(err))
		}
		processed++
	}

	final, err := o.store.FinaliseRun(runID)
	if err != nil {
		o.logger.Error("could not finalise run", zap.String("run_id", runID), zap.Error(err))
		telemetry.EndRunSpan(runSpan, "error", len(items), processed)
		return
	}
	metrics.RecordRunComplete("server", final.Status, time.Since(started))
	telemetry.EndRunSpan(runSpan, final.Status, final.TotalItems, final.ProcessedItems)
	o.emitReport(final, cluster)
}

// recoverRunPanic drives a run whose executor goroutine panicked to a
// terminal state: the panic goes to the audit trail, any unrecorded items
// get a failed result carrying the panic summary, and the run finalises as
// incomplete. The process keeps serving.
func (o *Orchestrator) recoverRunPanic(runID string, cause any) {
	summary := fmt.Sprintf("run executor panic: %v", cause)
	o.logger.Error("run executor panicked", zap.String("run_id", runID), zap.Any("panic", cause))
	if _, err := o.store.RecordAudit("system", "run.executor_panic", runID, summary); err != nil {
		o.logger.Error("could not record audit entry for panic", zap.String("run_id", runID), zap.Error(err))
	}
	if err := o.store.FailRemainingResults(runID, summary); err != nil {
		o.logger.Error("could not fail remaining items after panic", zap.String("run_id", runID), zap.Error(err))
		return
	}
	if _, err := o.store.FinaliseRun(runID); err != nil {
		o.logger.Error("could not finalise run after panic", zap.String("run_id", runID), zap.Error(err))
	}
}

// Cancel stops a run. For a server-executor run still in flight, the
// background goroutine is signalled to stop after its current item; for an
// agent-executor run, or one that has already finished looping, the run is
// moved directly to cancelled in the store.
func (o *Orchestrator) Cancel(runID string) (store.InspectionRun, error) {
	o.mu.Lock()
	cancel, inFlight := o.cancels[runID]
	o.mu.Unlock()
	if inFlight {
		cancel()
	}
	return o.store.CancelRun(runID)
}

// GetRun returns a run by id.
func (o *Orchestrator) GetRun(runID string) (store.InspectionRun, error) {
	return o.store.GetRun(runID)
}

// ListRuns returns every run for a cluster, or every run if clusterID is
// empty.
func (o *Orchestrator) ListRuns(clusterID string) ([]store.InspectionRun, error) {
	return o.store.ListRuns(clusterID)
}

// Wait blocks until every in-flight server execution goroutine has
// returned. Intended for graceful shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
