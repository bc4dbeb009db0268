/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package checkengine

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/qen-labs/inspectord/internal/store"
)

const defaultBuiltinTimeout = 15 * time.Second

// evaluateBuiltin dispatches one of the fixed, user-config-free check
// kinds. The five resource-usage kinds need a Prometheus endpoint and
// degrade to warning when the cluster has none configured, rather than
// failing outright — usage data simply isn't available yet.
func (e *Engine) evaluateBuiltin(ctx context.Context, item store.InspectionItem, cluster Cluster) Result {
	switch item.CheckType {
	case store.CheckTypeClusterVersion:
		return e.checkClusterVersion(ctx, cluster)
	case store.CheckTypeNodesStatus:
		return e.checkNodesStatus(ctx, cluster)
	case store.CheckTypePodsStatus:
		return e.checkPodsStatus(ctx, cluster)
	case store.CheckTypeEventsRecent:
		return e.checkEventsRecent(ctx, cluster)
	case store.CheckTypeClusterCPUUsage:
		return e.checkResourceUsage(ctx, cluster, "sum(rate(container_cpu_usage_seconds_total[5m]))", "cluster CPU usage")
	case store.CheckTypeClusterMemoryUsage:
		return e.checkResourceUsage(ctx, cluster, "sum(container_memory_working_set_bytes)", "cluster memory usage")
	case store.CheckTypeNodeCPUHotspots:
		return e.checkResourceUsage(ctx, cluster, "max(instance:node_cpu_utilisation:rate5m)", "node CPU hotspot")
	case store.CheckTypeNodeMemoryPressure:
		return e.checkResourceUsage(ctx, cluster, "max(node_memory_MemAvailable_bytes / node_memory_MemTotal_bytes)", "node memory pressure")
	case store.CheckTypeClusterDiskIO:
		return e.checkResourceUsage(ctx, cluster, "sum(rate(node_disk_io_time_seconds_total[5m]))", "cluster disk I/O")
	default:
		return Result{Status: store.ResultFailed, Detail: "unknown check type"}
	}
}

func (e *Engine) builtinClientset(cluster Cluster) (kubernetes.Interface, error) {
	kubeconfigPath, cleanup, err := materializeKubeconfig(cluster.KubeconfigPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	restCfg, err := clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("build rest config: %w", err)
	}
	return kubernetes.NewForConfig(restCfg)
}

func (e *Engine) checkClusterVersion(ctx context.Context, cluster Cluster) Result {
	cs, err := e.builtinClientset(cluster)
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: "could not build client: " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, defaultBuiltinTimeout)
	defer cancel()

	version, err := cs.Discovery().ServerVersion()
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: "could not reach API server: " + err.Error()}
	}
	return Result{Status: store.ResultPassed, Detail: fmt.Sprintf("server version %s", version.GitVersion)}
}

func (e *Engine) checkNodesStatus(ctx context.Context, cluster Cluster) Result {
	cs, err := e.builtinClientset(cluster)
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: "could not build client: " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, defaultBuiltinTimeout)
	defer cancel()

	nodes, err := cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: "could not list nodes: " + err.Error()}
	}

	var notReady []string
	for _, n := range nodes.Items {
		if !nodeIsReady(n) {
			notReady = append(notReady, n.Name)
		}
	}
	if len(notReady) == 0 {
		return Result{Status: store.ResultPassed, Detail: fmt.Sprintf("%d node(s) ready", len(nodes.Items))}
	}
	return Result{
		Status:     store.ResultFailed,
		Detail:     fmt.Sprintf("%d of %d node(s) not ready: %v", len(notReady), len(nodes.Items), notReady),
		Suggestion: "inspect the listed nodes for taints, kubelet health, and resource pressure",
	}
}

func nodeIsReady(n corev1.Node) bool {
	for _, c := range n.Status.Conditions {
		if c.Type == corev1.NodeReady {
			return c.Status == corev1.ConditionTrue
		}
	}
	return false
}

func (e *Engine) checkPodsStatus(ctx context.Context, cluster Cluster) Result {
	cs, err := e.builtinClientset(cluster)
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: "could not build client: " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, defaultBuiltinTimeout)
	defer cancel()

	pods, err := cs.CoreV1().Pods("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: "could not list pods: " + err.Error()}
	}

	var unhealthy []string
	for _, p := range pods.Items {
		if p.Status.Phase == corev1.PodFailed || p.Status.Phase == corev1.PodUnknown {
			unhealthy = append(unhealthy, p.Namespace+"/"+p.Name)
			continue
		}
		if p.Status.Phase == corev1.PodRunning && !podContainersReady(p) {
			unhealthy = append(unhealthy, p.Namespace+"/"+p.Name)
		}
	}
	if len(unhealthy) == 0 {
		return Result{Status: store.ResultPassed, Detail: fmt.Sprintf("%d pod(s) healthy", len(pods.Items))}
	}
	status := store.ResultWarning
	if len(unhealthy) > len(pods.Items)/2 {
		status = store.ResultFailed
	}
	return Result{
		Status:     status,
		Detail:     fmt.Sprintf("%d of %d pod(s) unhealthy: %v", len(unhealthy), len(pods.Items), unhealthy),
		Suggestion: "describe the listed pods for container restart reasons",
	}
}

func podContainersReady(p corev1.Pod) bool {
	for _, c := range p.Status.ContainerStatuses {
		if !c.Ready {
			return false
		}
	}
	return true
}

func (e *Engine) checkEventsRecent(ctx context.Context, cluster Cluster) Result {
	cs, err := e.builtinClientset(cluster)
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: "could not build client: " + err.Error()}
	}
	ctx, cancel := context.WithTimeout(ctx, defaultBuiltinTimeout)
	defer cancel()

	events, err := cs.CoreV1().Events("").List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: "could not list events: " + err.Error()}
	}

	cutoff := time.Now().Add(-30 * time.Minute)
	var warnings []string
	for _, ev := range events.Items {
		if ev.Type != corev1.EventTypeWarning {
			continue
		}
		if ev.LastTimestamp.Time.Before(cutoff) {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("%s/%s: %s", ev.InvolvedObject.Kind, ev.InvolvedObject.Name, ev.Reason))
	}
	if len(warnings) == 0 {
		return Result{Status: store.ResultPassed, Detail: "no warning events in the last 30m"}
	}
	return Result{
		Status:     store.ResultWarning,
		Detail:     fmt.Sprintf("%d warning event(s) in the last 30m: %v", len(warnings), warnings),
		Suggestion: "review the listed events for recurring failures",
	}
}

// checkResourceUsage runs a fixed PromQL expression and maps the result.
// Without a configured Prometheus endpoint there is no way to evaluate
// resource pressure, so the check degrades to warning rather than failing.
func (e *Engine) checkResourceUsage(ctx context.Context, cluster Cluster, expression, label string) Result {
	if cluster.PrometheusURL == "" {
		return Result{Status: store.ResultWarning, Detail: label + ": no prometheus_url configured for this cluster"}
	}

	value, found, err := e.queryPrometheus(ctx, cluster.PrometheusURL, expression)
	if err != nil {
		return Result{Status: store.ResultFailed, Detail: label + ": prometheus query failed: " + err.Error()}
	}
	if !found {
		return Result{Status: store.ResultWarning, Detail: label + ": no samples returned"}
	}
	return Result{Status: store.ResultPassed, Detail: fmt.Sprintf("%s = %.4f", label, value)}
}
