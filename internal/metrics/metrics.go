/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines the Prometheus metrics exposed by inspectord.
//
// All metrics register with prometheus's default registerer so they are
// automatically served by promhttp.Handler at /metrics.
//
// Metric naming follows Prometheus conventions:
//   - inspectord_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RunsTotal counts runs by executor and terminal status.
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspectord_runs_total",
			Help: "Total number of inspection runs by executor and terminal status.",
		},
		[]string{"executor", "status"},
	)

	// RunDurationSeconds is a histogram of run duration from start to
	// finalisation.
	RunDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inspectord_run_duration_seconds",
			Help:    "Duration of inspection runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"executor"},
	)

	// CheckDurationSeconds is a histogram of single check-item evaluation
	// time, by check kind.
	CheckDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inspectord_check_duration_seconds",
			Help:    "Duration of a single inspection item evaluation in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"check_type"},
	)

	// ResultsTotal counts recorded results by status.
	ResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspectord_results_total",
			Help: "Total inspection results recorded, by status.",
		},
		[]string{"status"},
	)

	// AgentLeaseExpirationsTotal counts runs detached back to queued by
	// the stale-lease sweeper.
	AgentLeaseExpirationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inspectord_agent_lease_expirations_total",
			Help: "Total runs detached from an agent due to an expired lease.",
		},
	)

	// ClusterProbeFailuresTotal counts failed cluster connectivity
	// probes by cluster id.
	ClusterProbeFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspectord_cluster_probe_failures_total",
			Help: "Total cluster probe failures by cluster id.",
		},
		[]string{"cluster_id"},
	)

	// ActiveRuns is the number of currently executing server-executor
	// runs.
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inspectord_active_runs",
			Help: "Number of runs currently executing on the server executor.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RunsTotal,
		RunDurationSeconds,
		CheckDurationSeconds,
		ResultsTotal,
		AgentLeaseExpirationsTotal,
		ClusterProbeFailuresTotal,
		ActiveRuns,
	)
}

// RecordRunComplete records metrics for a run that reached a terminal
// status.
func RecordRunComplete(executor, status string, duration time.Duration) {
	RunsTotal.WithLabelValues(executor, status).Inc()
	RunDurationSeconds.WithLabelValues(executor).Observe(duration.Seconds())
}

// RecordCheck records a single item evaluation's duration and outcome.
func RecordCheck(checkType, status string, duration time.Duration) {
	CheckDurationSeconds.WithLabelValues(checkType).Observe(duration.Seconds())
	ResultsTotal.WithLabelValues(status).Inc()
}

// RecordLeaseExpiration records one run detached by the sweeper.
func RecordLeaseExpiration() {
	AgentLeaseExpirationsTotal.Inc()
}

// RecordClusterProbeFailure records a failed connectivity probe.
func RecordClusterProbeFailure(clusterID string) {
	ClusterProbeFailuresTotal.WithLabelValues(clusterID).Inc()
}
