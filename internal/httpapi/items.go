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
	"time"

	"github.com/qen-labs/inspectord/internal/store"
)

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListItems()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"items": items})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetItem(r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(item)
}

type itemRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	CheckType   string            `json:"check_type"`
	Config      store.CheckConfig `json:"config"`
}

func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, ValidationError, "invalid request body: "+err.Error())
		return
	}
	item, err := s.store.CreateItem(req.Name, req.Description, req.CheckType, req.Config)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(item)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, ValidationError, "invalid request body: "+err.Error())
		return
	}
	item, err := s.store.UpdateItem(r.PathValue("id"), req.Name, req.Description, req.CheckType, req.Config)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(item)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteItem(r.PathValue("id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ExportItems()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"exported_at": time.Now().UTC(),
		"items":       items,
	})
}

// handleImportItems accepts a multipart upload of the /export shape and
// upserts by item name.
func (s *Server) handleImportItems(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSONError(w, ValidationError, err.Error())
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, ValidationError, "missing file: "+err.Error())
		return
	}
	defer file.Close()

	var payload struct {
		Items []store.InspectionItem `json:"items"`
	}
	if err := json.NewDecoder(file).Decode(&payload); err != nil {
		writeJSONError(w, ValidationError, "invalid import payload: "+err.Error())
		return
	}

	result, err := s.store.ImportItems(payload.Items)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
