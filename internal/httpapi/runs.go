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
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/qen-labs/inspectord/internal/license"
	"github.com/qen-labs/inspectord/internal/store"
)

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.orchestrator.ListRuns(r.URL.Query().Get("cluster_id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}

type createRunRequest struct {
	ClusterID string   `json:"cluster_id"`
	ItemIDs   []string `json:"item_ids"`
	Operator  string   `json:"operator"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, ValidationError, "invalid request body: "+err.Error())
		return
	}
	if len(req.ItemIDs) == 0 {
		writeJSONError(w, ValidationError, "item_ids must not be empty")
		return
	}

	cluster, err := s.store.GetCluster(req.ClusterID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	byID, err := s.store.GetItemsByIDs(req.ItemIDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	items := make([]store.InspectionItem, 0, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		item, ok := byID[id]
		if !ok {
			writeJSONError(w, ValidationError, "unknown inspection item: "+id)
			return
		}
		items = append(items, item)
	}

	run, err := s.orchestrator.CreateRun(r.Context(), cluster, items, req.Operator)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.GetRun(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	results, err := s.store.GetResults(run.ID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"run":     run,
		"results": results,
	})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orchestrator.Cancel(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleteFiles, _ := strconv.ParseBool(r.URL.Query().Get("delete_files"))

	if deleteFiles {
		run, err := s.orchestrator.GetRun(id)
		if err == nil && run.ReportPath != "" {
			dir := filepath.Dir(run.ReportPath)
			_ = os.Remove(filepath.Join(dir, run.ID+".md"))
			_ = os.Remove(filepath.Join(dir, run.ID+".pdf"))
		}
	}
	if err := s.store.DeleteRun(id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownloadReport serves a finalised run's rendered artefact.
// ?format=pdf|md selects the representation; md is the default.
func (s *Server) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	if err := s.guard.RequireFeature(license.FeatureReports); err != nil {
		writeStoreError(w, err)
		return
	}
	run, err := s.orchestrator.GetRun(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if run.ReportPath == "" {
		writeJSONError(w, NotFound, "report not yet available for this run")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "md"
	}
	dir := filepath.Dir(run.ReportPath)

	var path, contentType string
	switch format {
	case "pdf":
		path, contentType = filepath.Join(dir, run.ID+".pdf"), "application/pdf"
	case "md":
		path, contentType = filepath.Join(dir, run.ID+".md"), "text/markdown; charset=utf-8"
	default:
		writeJSONError(w, ValidationError, "format must be pdf or md")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		writeJSONError(w, NotFound, "report artefact not found: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+strings.TrimPrefix(path, dir+string(filepath.Separator))+"\"")
	_, _ = w.Write(data)
}

