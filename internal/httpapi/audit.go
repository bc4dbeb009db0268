/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/qen-labs/inspectord/internal/store"
)

// handleListAudit serves the audit log, optionally filtered by action,
// target, and since. When older_than is present the matching entries are
// pruned instead of listed, mirroring the retention sweep the store exposes.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if olderThan := q.Get("older_than"); olderThan != "" {
		d, err := parseHumanDuration(olderThan)
		if err != nil {
			writeJSONError(w, ValidationError, "invalid older_than: "+err.Error())
			return
		}
		cutoff := time.Now().UTC().Add(-d)
		n, err := s.store.PruneAuditOlderThan(cutoff)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"pruned": n})
		return
	}

	filter := store.AuditFilter{
		Action: q.Get("action"),
		Target: q.Get("target"),
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeJSONError(w, ValidationError, "invalid since: "+err.Error())
			return
		}
		filter.Since = t
	}

	entries, err := s.store.ListAudit(filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"entries": entries})
}

// handleExportAudit streams the audit log as JSONL or CSV for offline
// analysis, newest first. Only the action and target filters apply; since
// and limit are not read, so every matching entry is exported.
func (s *Server) handleExportAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.AuditFilter{Action: q.Get("action"), Target: q.Get("target")}

	entries, err := s.store.ListAudit(filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	switch q.Get("format") {
	case "csv":
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-logs.csv"`)
		cw := csv.NewWriter(w)
		_ = cw.Write([]string{"at", "actor", "action", "target", "detail"})
		for _, e := range entries {
			_ = cw.Write([]string{e.At.Format(time.RFC3339), e.Actor, e.Action, e.Target, e.Detail})
		}
		cw.Flush()
	case "jsonl", "":
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", `attachment; filename="audit-logs.jsonl"`)
		enc := json.NewEncoder(w)
		for _, e := range entries {
			_ = enc.Encode(e)
		}
	default:
		writeJSONError(w, ValidationError, "format must be jsonl or csv")
	}
}
