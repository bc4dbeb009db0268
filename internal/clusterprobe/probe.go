/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package clusterprobe verifies that a registered cluster's kubeconfig is
// reachable and records the connection state the rest of the system relies
// on before admitting a run against it.
package clusterprobe

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/qen-labs/inspectord/internal/metrics"
	"github.com/qen-labs/inspectord/internal/store"
	"github.com/qen-labs/inspectord/internal/telemetry"
)

// defaultTimeout bounds every probe call: a cluster that cannot answer a
// version and node-list request within this window is reported unreachable
// rather than left to block the caller indefinitely.
const defaultTimeout = 10 * time.Second

// Prober probes cluster reachability via a kubeconfig and persists findings
// to the store.
type Prober struct {
	store  *store.Store
	logger *zap.Logger
}

// New creates a Prober. A nil logger is replaced with a no-op logger.
func New(st *store.Store, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{store: st, logger: logger}
}

// Probe connects to cluster c using its kubeconfig, records the outcome via
// UpdateClusterConnection, and returns the refreshed cluster row. Probe
// never returns an error for a reachability failure — that failure is
// itself the recorded connection_status — only for failures to persist the
// result at all.
func (p *Prober) Probe(ctx context.Context, c store.Cluster) (store.Cluster, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()
	ctx, span := telemetry.StartProbeSpan(ctx, c.ID)

	status, message, version, nodeCount := p.dial(ctx, c)
	telemetry.EndProbeSpan(span, status)
	if status == store.ConnectionFailed {
		metrics.RecordClusterProbeFailure(c.ID)
	}

	if err := p.store.UpdateClusterConnection(c.ID, status, message, version, nodeCount); err != nil {
		return store.Cluster{}, fmt.Errorf("persist connection state for cluster %s: %w", c.ID, err)
	}
	return p.store.GetCluster(c.ID)
}

func (p *Prober) dial(ctx context.Context, c store.Cluster) (status, message, version string, nodeCount *int) {
	data, err := os.ReadFile(c.KubeconfigPath)
	if err != nil {
		return store.ConnectionFailed, "could not read kubeconfig: " + err.Error(), "", nil
	}

	tmp, err := os.CreateTemp("", "inspectord-probe-*")
	if err != nil {
		return store.ConnectionFailed, "could not stage kubeconfig: " + err.Error(), "", nil
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err == nil {
		_, err = tmp.Write(data)
	}
	tmp.Close()
	if err != nil {
		return store.ConnectionFailed, "could not stage kubeconfig: " + err.Error(), "", nil
	}

	restCfg, err := clientcmd.BuildConfigFromFlags("", tmp.Name())
	if err != nil {
		return store.ConnectionFailed, "invalid kubeconfig: " + err.Error(), "", nil
	}
	// A fresh client per probe call, never a long-lived one: clusters are
	// probed infrequently and credentials may rotate between calls.
	cs, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return store.ConnectionFailed, "could not build client: " + err.Error(), "", nil
	}

	serverVersion, err := cs.Discovery().ServerVersion()
	if err != nil {
		p.logger.Warn("cluster probe version check failed", zap.String("cluster", c.ID), zap.Error(err))
		return store.ConnectionFailed, "could not reach API server: " + err.Error(), "", nil
	}

	nodes, err := cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		// Reachable but the node listing failed: a kubeconfig with
		// narrower RBAC than expected. Partial success, not outright
		// failure.
		p.logger.Warn("cluster probe node list failed", zap.String("cluster", c.ID), zap.Error(err))
		return store.ConnectionWarning, "connected but could not list nodes: " + err.Error(), serverVersion.GitVersion, nil
	}

	n := len(nodes.Items)
	return store.ConnectionConnected, "", serverVersion.GitVersion, &n
}
