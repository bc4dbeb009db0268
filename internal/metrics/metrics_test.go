/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	m := &dto.Metric{}
	if err := cv.WithLabelValues(labels...).Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getCounterTotal(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func getGaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func getHistogramCount(hv *prometheus.HistogramVec, labels ...string) uint64 {
	m := &dto.Metric{}
	observer := hv.WithLabelValues(labels...)
	if c, ok := observer.(prometheus.Metric); ok {
		if err := c.Write(m); err != nil {
			return 0
		}
		return m.GetHistogram().GetSampleCount()
	}
	return 0
}

func TestRecordRunComplete(t *testing.T) {
	RecordRunComplete("server", "completed", 42*time.Second)

	val := getCounterValue(RunsTotal, "server", "completed")
	if val < 1 {
		t.Errorf("RunsTotal = %f, want >= 1", val)
	}

	count := getHistogramCount(RunDurationSeconds, "server")
	if count < 1 {
		t.Errorf("RunDurationSeconds sample count = %d, want >= 1", count)
	}
}

func TestRecordCheck(t *testing.T) {
	RecordCheck("promql", "passed", 250*time.Millisecond)
	RecordCheck("promql", "failed", 100*time.Millisecond)

	passed := getCounterValue(ResultsTotal, "passed")
	failed := getCounterValue(ResultsTotal, "failed")
	if passed < 1 {
		t.Errorf("ResultsTotal passed = %f, want >= 1", passed)
	}
	if failed < 1 {
		t.Errorf("ResultsTotal failed = %f, want >= 1", failed)
	}

	count := getHistogramCount(CheckDurationSeconds, "promql")
	if count < 2 {
		t.Errorf("CheckDurationSeconds sample count = %d, want >= 2", count)
	}
}

func TestRecordLeaseExpiration(t *testing.T) {
	before := getCounterTotal(AgentLeaseExpirationsTotal)
	RecordLeaseExpiration()
	after := getCounterTotal(AgentLeaseExpirationsTotal)
	if after != before+1 {
		t.Errorf("AgentLeaseExpirationsTotal = %f, want %f", after, before+1)
	}
}

func TestRecordClusterProbeFailure(t *testing.T) {
	RecordClusterProbeFailure("cluster-a")
	RecordClusterProbeFailure("cluster-a")

	val := getCounterValue(ClusterProbeFailuresTotal, "cluster-a")
	if val < 2 {
		t.Errorf("ClusterProbeFailuresTotal = %f, want >= 2", val)
	}
}

func TestActiveRuns(t *testing.T) {
	ActiveRuns.Set(0)

	ActiveRuns.Inc()
	ActiveRuns.Inc()

	val := getGaugeValue(ActiveRuns)
	if val != 2 {
		t.Errorf("ActiveRuns = %f, want 2", val)
	}

	ActiveRuns.Dec()
	val = getGaugeValue(ActiveRuns)
	if val != 1 {
		t.Errorf("ActiveRuns after Dec = %f, want 1", val)
	}
}

func TestMultipleExecutorsLabelIsolation(t *testing.T) {
	RecordRunComplete("server", "completed", 10*time.Second)
	RecordRunComplete("agent", "failed", 5*time.Second)

	serverCompleted := getCounterValue(RunsTotal, "server", "completed")
	agentFailed := getCounterValue(RunsTotal, "agent", "failed")
	agentCompleted := getCounterValue(RunsTotal, "agent", "completed")

	if serverCompleted < 1 {
		t.Error("server completed should be >= 1")
	}
	if agentFailed < 1 {
		t.Error("agent failed should be >= 1")
	}
	if agentCompleted != 0 {
		t.Errorf("agent completed = %f, want 0", agentCompleted)
	}
}
