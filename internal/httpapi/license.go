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

	"go.uber.org/zap"
)

// LicenseFileName is where an installed license blob is persisted under the
// data directory so it survives a restart.
const LicenseFileName = "license.blob"

func (s *Server) handleLicenseStatus(w http.ResponseWriter, r *http.Request) {
	status := s.guard.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"valid":    status.Valid,
		"reason":   status.Reason,
		"features": status.Features,
		"payload":  status.Payload,
	})
}

type licenseUploadRequest struct {
	License string `json:"license"`
}

// handleLicenseUpload installs a license blob, accepted either as a raw
// body or as JSON {"license": "..."}.
func (s *Server) handleLicenseUpload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, ValidationError, "could not read request body: "+err.Error())
		return
	}

	raw := string(body)
	if ct := r.Header.Get("Content-Type"); ct == "application/json" {
		var req licenseUploadRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSONError(w, ValidationError, "invalid request body: "+err.Error())
			return
		}
		raw = req.License
	}

	status, err := s.guard.Install(raw)
	if err != nil {
		writeJSONError(w, ValidationError, "could not parse license: "+err.Error())
		return
	}

	if s.dataDir != "" {
		path := filepath.Join(s.dataDir, LicenseFileName)
		if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
			s.logger.Warn("could not persist license blob", zap.String("path", path), zap.Error(err))
		}
	}

	if _, err := s.store.RecordAudit("api", "license.installed", "", status.Reason); err != nil {
		s.logger.Warn("could not record audit entry")
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"valid":    status.Valid,
		"reason":   status.Reason,
		"features": status.Features,
	})
}
