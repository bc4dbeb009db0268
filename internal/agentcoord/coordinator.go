/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package agentcoord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/qen-labs/inspectord/internal/metrics"
	"github.com/qen-labs/inspectord/internal/report"
	"github.com/qen-labs/inspectord/internal/store"
	"github.com/qen-labs/inspectord/internal/telemetry"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown agent
// name, a disabled agent, or a token that does not match.
var ErrInvalidCredentials = errors.New("invalid agent credentials")

// defaultLeaseTTL is how long a claimed run holds its lease before the
// sweeper considers the agent to have gone silent and detaches it.
const defaultLeaseTTL = 5 * time.Minute

// Coordinator is the Agent Coordination Plane.
type Coordinator struct {
	store    *store.Store
	logger   *zap.Logger
	leaseTTL time.Duration
	emitter  *report.Emitter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLeaseTTL overrides the default 5-minute lease duration.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(c *Coordinator) {
		if ttl > 0 {
			c.leaseTTL = ttl
		}
	}
}

// WithEmitter attaches a report Emitter invoked best-effort once an
// agent-executor run finalises.
func WithEmitter(e *report.Emitter) Option {
	return func(c *Coordinator) { c.emitter = e }
}

// New creates a Coordinator. A nil logger is replaced with a no-op logger.
func New(st *store.Store, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{store: st, logger: logger, leaseTTL: defaultLeaseTTL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisteredAgent is returned on registration and rotation — the only two
// moments the plaintext token exists outside the caller's TLS session.
type RegisteredAgent struct {
	Agent          store.InspectionAgent
	PlaintextToken string
}

// RegisterAgent creates a new agent, or rotates the token of an existing
// one with the same name — registration is idempotent by name so a probe
// script can be re-run safely.
func (c *Coordinator) RegisterAgent(name, clusterID, description, prometheusURL string) (RegisteredAgent, error) {
	token, err := generateToken()
	if err != nil {
		return RegisteredAgent{}, err
	}
	hash, err := hashToken(token)
	if err != nil {
		return RegisteredAgent{}, err
	}

	existing, err := c.store.FindAgentByName(name)
	switch {
	case store.IsNotFound(err):
		agent, err := c.store.CreateAgent(name, clusterID, description, prometheusURL, hash)
		if err != nil {
			return RegisteredAgent{}, fmt.Errorf("create agent: %w", err)
		}
		c.logger.Info("agent registered", zap.String("agent_id", agent.ID), zap.String("name", name))
		return RegisteredAgent{Agent: agent, PlaintextToken: token}, nil
	case err != nil:
		return RegisteredAgent{}, fmt.Errorf("lookup agent: %w", err)
	default:
		if err := c.store.RotateAgentToken(existing.ID, hash); err != nil {
			return RegisteredAgent{}, fmt.Errorf("rotate agent token: %w", err)
		}
		existing.TokenHash = hash
		c.logger.Info("agent re-registered, token rotated", zap.String("agent_id", existing.ID), zap.String("name", name))
		return RegisteredAgent{Agent: existing, PlaintextToken: token}, nil
	}
}

// RotateToken issues a fresh token for an already-registered agent.
func (c *Coordinator) RotateToken(agentID string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	hash, err := hashToken(token)
	if err != nil {
		return "", err
	}
	if err := c.store.RotateAgentToken(agentID, hash); err != nil {
		return "", fmt.Errorf("rotate agent token: %w", err)
	}
	return token, nil
}

// Authenticate verifies a bearer token presented under an agent name. It
// never distinguishes "unknown agent" from "wrong token" in its returned
// error, so a caller cannot enumerate agent names by probing.
func (c *Coordinator) Authenticate(name, token string) (store.InspectionAgent, error) {
	agent, err := c.store.FindAgentByName(name)
	if err != nil {
		if store.IsNotFound(err) {
			return store.InspectionAgent{}, ErrInvalidCredentials
		}
		return store.InspectionAgent{}, fmt.Errorf("lookup agent: %w", err)
	}
	if !agent.IsEnabled || !tokenMatches(agent.TokenHash, token) {
		return store.InspectionAgent{}, ErrInvalidCredentials
	}
	c.touchLastSeen(agent.ID)
	return agent, nil
}

// AuthenticateByID verifies a bearer token presented against the agent
// identified by agentID, the shape the agent-plane URLs (/agents/:id/...)
// use. Like Authenticate, it never distinguishes "unknown agent" from
// "wrong token" in its returned error.
func (c *Coordinator) AuthenticateByID(agentID, token string) (store.InspectionAgent, error) {
	agent, err := c.store.GetAgent(agentID)
	if err != nil {
		if store.IsNotFound(err) {
			return store.InspectionAgent{}, ErrInvalidCredentials
		}
		return store.InspectionAgent{}, fmt.Errorf("lookup agent: %w", err)
	}
	if !agent.IsEnabled || !tokenMatches(agent.TokenHash, token) {
		return store.InspectionAgent{}, ErrInvalidCredentials
	}
	c.touchLastSeen(agent.ID)
	return agent, nil
}

// touchLastSeen records agent liveness on every authenticated call, not
// just heartbeats. A failure is not worth failing the caller's request.
func (c *Coordinator) touchLastSeen(agentID string) {
	if err := c.store.TouchAgentLastSeen(agentID); err != nil {
		c.logger.Warn("could not update agent last_seen_at", zap.String("agent_id", agentID), zap.Error(err))
	}
}

// Heartbeat records that an authenticated agent is alive.
func (c *Coordinator) Heartbeat(agentID string) error {
	return c.store.TouchAgentLastSeen(agentID)
}

// TaskBundle is the work handed to an agent for one claimed run: enough
// context to evaluate every item without a further round trip to fetch the
// cluster or item definitions.
type TaskBundle struct {
	Run     store.InspectionRun
	Cluster store.Cluster
	Items   []store.RunItemSnapshot
}

// PullTasks claims up to max queued runs for agentID and returns their
// execution context. A run that fails to resolve its cluster is skipped
// rather than failing the whole pull — the caller still makes progress on
// the rest.
func (c *Coordinator) PullTasks(ctx context.Context, agentID string, max int) ([]TaskBundle, error) {
	runs, err := c.store.ClaimAgentRunsForDispatch(agentID, max, c.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("claim runs: %w", err)
	}

	bundles := make([]TaskBundle, 0, len(runs))
	for _, run := range runs {
		cluster, err := c.store.GetCluster(run.ClusterID)
		if err != nil {
			c.logger.Error("claimed run references missing cluster",
				zap.String("run_id", run.ID), zap.String("cluster_id", run.ClusterID), zap.Error(err))
			continue
		}
		items, err := c.store.RunItems(run.ID)
		if err != nil {
			c.logger.Error("could not load run item snapshot", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		bundles = append(bundles, TaskBundle{Run: run, Cluster: cluster, Items: items})
	}
	return bundles, nil
}

// SubmitResult records one item's outcome for a run, refreshes the run's
// lease while items remain, and finalises the run once every item has
// reported. agentID only labels the trace span: it is not checked against
// the run's bound agent or lease.
func (c *Coordinator) SubmitResult(ctx context.Context, agentID, runID, itemID, itemName, status, detail, suggestion string) (store.InspectionResult, error) {
	_, span := telemetry.StartAgentTaskSpan(ctx, agentID, runID)
	result, created, err := c.store.RecordResult(runID, itemID, itemName, status, detail, suggestion)
	if err != nil {
		span.End()
		return store.InspectionResult{}, err
	}
	telemetry.EndAgentTaskSpan(span, created)

	run, err := c.store.GetRun(runID)
	if err != nil {
		return result, fmt.Errorf("reload run after submit: %w", err)
	}
	if run.ProcessedItems < run.TotalItems {
		// An agent actively submitting is alive; each result buys it a
		// fresh lease window for the rest of the run.
		if err := c.store.RefreshRunLease(runID, time.Now().UTC().Add(c.leaseTTL)); err != nil {
			c.logger.Warn("could not refresh run lease", zap.String("run_id", runID), zap.Error(err))
		}
	}
	if run.ProcessedItems >= run.TotalItems {
		final, err := c.store.FinaliseRun(runID)
		if err != nil {
			return result, fmt.Errorf("finalise run after final submit: %w", err)
		}
		if err := c.store.SetRunAgentStatus(runID, store.AgentRunFinished); err != nil {
			return result, fmt.Errorf("mark agent run finished: %w", err)
		}
		if final.StartedAt != nil {
			metrics.RecordRunComplete("agent", final.Status, time.Since(*final.StartedAt))
		}
		if c.emitter != nil {
			if cluster, err := c.store.GetCluster(final.ClusterID); err != nil {
				c.logger.Warn("could not load cluster for report emission", zap.String("run_id", runID), zap.Error(err))
			} else {
				c.emitter.Emit(final, cluster)
			}
		}
	}
	return result, nil
}

// ReportRunFailure lets an agent surface a hard failure — lost cluster
// access, a crashed worker — without waiting out the lease TTL. Remaining
// items get failed-status results and the run finalises as incomplete, so
// operators see it promptly rather than as a silent timeout.
func (c *Coordinator) ReportRunFailure(runID, reason string) (store.InspectionRun, error) {
	if err := c.store.SetRunAgentStatus(runID, store.AgentRunFailed); err != nil {
		return store.InspectionRun{}, fmt.Errorf("mark agent run failed: %w", err)
	}
	detail := "agent reported failure"
	if reason != "" {
		detail += ": " + reason
	}
	if err := c.store.FailRemainingResults(runID, detail); err != nil {
		return store.InspectionRun{}, fmt.Errorf("fail remaining items: %w", err)
	}
	run, err := c.store.FinaliseRun(runID)
	if err != nil {
		return store.InspectionRun{}, fmt.Errorf("finalise run after agent failure: %w", err)
	}
	if _, err := c.store.RecordAudit("agent", "run.agent_failure", runID, reason); err != nil {
		c.logger.Warn("could not record audit entry for agent failure", zap.String("run_id", runID), zap.Error(err))
	}
	return run, nil
}

// SweepLeases runs the stale-lease sweep once, detaching any run whose
// lease has expired back to queued so it can be reclaimed by another pull.
func (c *Coordinator) SweepLeases() (int, error) {
	expired, err := c.store.SweepExpiredLeases(time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired leases: %w", err)
	}
	for _, run := range expired {
		metrics.RecordLeaseExpiration()
		if _, err := c.store.RecordAudit("system", "agent_lease_expired", run.ID, "agent "+run.AgentID); err != nil {
			c.logger.Warn("could not record audit entry for expired lease", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	if len(expired) > 0 {
		c.logger.Warn("detached runs with expired agent leases", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// RunSweepLoop ticks SweepLeases every interval until ctx is cancelled.
// Intended to run as a single background goroutine for the process
// lifetime.
func (c *Coordinator) RunSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.SweepLeases(); err != nil {
				c.logger.Error("lease sweep failed", zap.Error(err))
			}
		}
	}
}
