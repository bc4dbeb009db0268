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
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/qen-labs/inspectord/internal/store"
)

// maxCommandOutputBytes caps the detail text captured from a failing
// command to roughly the last 2KB, per the command check's edge-case rule.
const maxCommandOutputBytes = 2 * 1024

func (e *Engine) evaluateCommand(ctx context.Context, item store.InspectionItem, cluster Cluster) Result {
	cfg := item.Config.Command
	if cfg == nil || cfg.CommandTemplate == "" {
		return misconfigured("command_template")
	}

	rendered := cfg.CommandTemplate
	if strings.Contains(rendered, "{{kubeconfig}}") {
		kubeconfigPath, cleanup, err := materializeKubeconfig(cluster.KubeconfigPath)
		if err != nil {
			return Result{Status: store.ResultFailed, Detail: "could not stage kubeconfig: " + err.Error()}
		}
		defer cleanup()
		rendered = strings.ReplaceAll(rendered, "{{kubeconfig}}", kubeconfigPath)
	}

	timeout := defaultCommandTimeout
	if cfg.TimeoutS > 0 {
		timeout = time.Duration(cfg.TimeoutS) * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if cfg.Shell {
		cmd = exec.CommandContext(runCtx, "sh", "-c", rendered)
	} else {
		fields := strings.Fields(rendered)
		if len(fields) == 0 {
			return misconfigured("command_template")
		}
		cmd = exec.CommandContext(runCtx, fields[0], fields[1:]...)
	}
	// Inherit only PATH: a command check never sees the control plane's own
	// credentials or environment.
	cmd.Env = []string{"PATH=" + os.Getenv("PATH")}

	output, runErr := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return Result{
			Status:     store.ResultFailed,
			Detail:     "command timed out after " + timeout.String(),
			Suggestion: cfg.SuggestionOnFail,
		}
	}
	if runErr != nil {
		return Result{
			Status:     store.ResultFailed,
			Detail:     tailBytes(output, maxCommandOutputBytes),
			Suggestion: cfg.SuggestionOnFail,
		}
	}

	detail := cfg.SuccessMessage
	if detail == "" {
		detail = tailBytes(output, maxCommandOutputBytes)
	}
	return Result{Status: store.ResultPassed, Detail: detail, Suggestion: cfg.SuggestionOnSuccess}
}

// tailBytes returns the trailing portion of b, at most n bytes, as a
// string — the "last ~2KB of combined stdout/stderr" the command check
// reports on failure.
func tailBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

// materializeKubeconfig copies the cluster's persisted kubeconfig into a
// private temporary file, mode 0600, so that a command check never
// operates directly on the control plane's canonical copy. The returned
// cleanup func removes the temp file; callers must defer it immediately,
// including on every early-return path, so the file never outlives the
// check — even if the caller later recovers from a panic.
func materializeKubeconfig(persistedPath string) (path string, cleanup func(), err error) {
	data, err := os.ReadFile(persistedPath)
	if err != nil {
		return "", func() {}, err
	}
	f, err := os.CreateTemp("", "inspectord-kubeconfig-*")
	if err != nil {
		return "", func() {}, err
	}
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	name := f.Name()
	f.Close()
	return name, func() { os.Remove(name) }, nil
}
