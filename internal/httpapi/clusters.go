/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/qen-labs/inspectord/internal/license"
	"github.com/qen-labs/inspectord/internal/store"
)

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	clusters, err := s.store.ListClusters()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"clusters": clusters})
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := s.store.GetCluster(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster)
}

// handleCreateCluster accepts a multipart form: file (kubeconfig), name,
// prometheus_url. The store row is created first to mint the id, then the
// kubeconfig is staged under dataDir/configs/<id>.yaml at mode 0600 and
// probed once.
func (s *Server) handleCreateCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.RequireFeature(license.FeatureClusters); err != nil {
		writeStoreError(w, err)
		return
	}

	name, prometheusURL, kubeconfig, err := parseClusterForm(r)
	if err != nil {
		writeJSONError(w, ValidationError, err.Error())
		return
	}
	if len(kubeconfig) == 0 {
		writeJSONError(w, ValidationError, "kubeconfig file is required")
		return
	}
	contexts, err := kubeconfigContexts(kubeconfig)
	if err != nil {
		writeJSONError(w, ValidationError, err.Error())
		return
	}

	cluster, err := s.store.CreateCluster(name, "", prometheusURL, contexts)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	path, err := s.stageKubeconfig(cluster.ID, kubeconfig)
	if err != nil {
		writeJSONError(w, Internal, "could not stage kubeconfig: "+err.Error())
		return
	}
	if err := s.store.SetClusterKubeconfigPath(cluster.ID, path); err != nil {
		writeStoreError(w, err)
		return
	}
	cluster, err = s.store.GetCluster(cluster.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	go func(c store.Cluster) {
		if _, err := s.prober.Probe(r.Context(), c); err != nil {
			s.logger.Warn("initial cluster probe failed", zap.String("cluster_id", c.ID), zap.Error(err))
		}
	}(cluster)

	if _, err := s.store.RecordAudit("api", "cluster.created", cluster.ID, cluster.Name); err != nil {
		s.logger.Warn("could not record audit entry", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(cluster)
}

func (s *Server) handleUpdateCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.RequireFeature(license.FeatureClusters); err != nil {
		writeStoreError(w, err)
		return
	}
	id := r.PathValue("id")

	name, prometheusURL, kubeconfig, err := parseClusterForm(r)
	if err != nil {
		writeJSONError(w, ValidationError, err.Error())
		return
	}
	if name != "" {
		if err := s.store.RenameCluster(id, name); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if len(kubeconfig) > 0 {
		contexts, err := kubeconfigContexts(kubeconfig)
		if err != nil {
			writeJSONError(w, ValidationError, err.Error())
			return
		}
		path, err := s.stageKubeconfig(id, kubeconfig)
		if err != nil {
			writeJSONError(w, Internal, "could not stage kubeconfig: "+err.Error())
			return
		}
		if err := s.store.SetClusterKubeconfigPath(id, path); err != nil {
			writeStoreError(w, err)
			return
		}
		if err := s.store.SetClusterContexts(id, contexts); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if prometheusURL != "" {
		if err := s.store.SetClusterPrometheusURL(id, prometheusURL); err != nil {
			writeStoreError(w, err)
			return
		}
	}
	if mode := r.FormValue("execution_mode"); mode != "" {
		if err := s.store.SetClusterExecutionMode(id, mode, r.FormValue("default_agent_id")); err != nil {
			writeStoreError(w, err)
			return
		}
	}

	cluster, err := s.store.GetCluster(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cluster)
}

func (s *Server) handleDeleteCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.RequireFeature(license.FeatureClusters); err != nil {
		writeStoreError(w, err)
		return
	}
	id := r.PathValue("id")
	deleteFiles, _ := strconv.ParseBool(r.URL.Query().Get("delete_files"))

	if deleteFiles {
		runIDs, err := s.store.DeleteRunsForCluster(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		reportsDir := filepath.Join(s.dataDir, "reports")
		for _, runID := range runIDs {
			_ = os.Remove(filepath.Join(reportsDir, runID+".md"))
			_ = os.Remove(filepath.Join(reportsDir, runID+".pdf"))
		}
		_ = os.Remove(filepath.Join(s.dataDir, "configs", id+".yaml"))
	}
	if err := s.store.DeleteCluster(id); err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.store.RecordAudit("api", "cluster.deleted", id, ""); err != nil {
		s.logger.Warn("could not record audit entry", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	cluster, err := s.store.GetCluster(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	refreshed, err := s.prober.Probe(r.Context(), cluster)
	if err != nil {
		writeJSONError(w, DependencyUnavailable, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(refreshed)
}

// parseClusterForm reads name, prometheus_url, and an optional kubeconfig
// upload from a multipart/form-data body.
func parseClusterForm(r *http.Request) (name, prometheusURL string, kubeconfig []byte, err error) {
	if err = r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", "", nil, err
	}
	name = r.FormValue("name")
	prometheusURL = r.FormValue("prometheus_url")

	file, _, ferr := r.FormFile("file")
	if ferr == http.ErrMissingFile {
		return name, prometheusURL, nil, nil
	}
	if ferr != nil {
		return "", "", nil, ferr
	}
	defer file.Close()
	kubeconfig, err = io.ReadAll(file)
	return name, prometheusURL, kubeconfig, err
}

// stageKubeconfig writes a cluster's kubeconfig blob under
// dataDir/configs/<id>.yaml at mode 0600, the permission kubeconfigs are
// held at everywhere else in the system.
func (s *Server) stageKubeconfig(clusterID string, data []byte) (string, error) {
	dir := filepath.Join(s.dataDir, "configs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, clusterID+".yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
