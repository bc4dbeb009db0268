/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qen-labs/inspectord/internal/store"
)

type agentContextKey struct{}

// withAgentAuth authenticates the bearer token against the agent named by
// the {id} path value and injects the resolved agent into the request
// context before calling next. Constant-time comparison happens inside
// agentcoord; this layer only extracts the header and maps failures.
func (s *Server) withAgentAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == r.Header.Get("Authorization") || token == "" {
			writeJSONError(w, AgentUnauthenticated, "missing bearer token")
			return
		}
		agent, err := s.coordinator.AuthenticateByID(r.PathValue("id"), token)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), agentContextKey{}, agent)
		next(w, r.WithContext(ctx))
	}
}

func agentFromContext(r *http.Request) store.InspectionAgent {
	agent, _ := r.Context().Value(agentContextKey{}).(store.InspectionAgent)
	return agent
}

type registerAgentRequest struct {
	Name          string `json:"name"`
	ClusterID     string `json:"cluster_id"`
	Description   string `json:"description"`
	PrometheusURL string `json:"prometheus_url"`
}

// handleRegisterAgent registers a new agent, or rotates the token of an
// existing one with the same name. The plaintext token is returned exactly
// once.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, ValidationError, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeJSONError(w, ValidationError, "name is required")
		return
	}
	reg, err := s.coordinator.RegisterAgent(req.Name, req.ClusterID, req.Description, req.PrometheusURL)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"agent": reg.Agent,
		"token": reg.PlaintextToken,
	})
}

func (s *Server) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	if err := s.coordinator.Heartbeat(agent.ID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"server_time": time.Now().UTC()})
}

func (s *Server) handleAgentPullTasks(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	max := 10
	if v := r.URL.Query().Get("max"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			max = n
		}
	}
	bundles, err := s.coordinator.PullTasks(r.Context(), agent.ID, max)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"tasks": bundles})
}

// handleRotateAgentToken issues a fresh token for an existing agent without
// re-registering it. Like registration, the plaintext is returned exactly
// once and only its hash survives.
func (s *Server) handleRotateAgentToken(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	token, err := s.coordinator.RotateToken(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if _, err := s.store.RecordAudit("api", "agent.token_rotated", id, ""); err != nil {
		s.logger.Warn("could not record audit entry")
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"token": token})
}

type runFailureRequest struct {
	RunID  string `json:"run_id"`
	Reason string `json:"reason"`
}

// handleAgentRunFailure lets an agent declare a run unrecoverable instead of
// going silent and waiting out the lease.
func (s *Server) handleAgentRunFailure(w http.ResponseWriter, r *http.Request) {
	var req runFailureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, ValidationError, "invalid request body: "+err.Error())
		return
	}
	if req.RunID == "" {
		writeJSONError(w, ValidationError, "run_id is required")
		return
	}
	run, err := s.coordinator.ReportRunFailure(req.RunID, req.Reason)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(run)
}

type submitResultRequest struct {
	RunID      string `json:"run_id"`
	ItemID     string `json:"item_id"`
	ItemName   string `json:"item_name"`
	Status     string `json:"status"`
	Detail     string `json:"detail"`
	Suggestion string `json:"suggestion"`
}

func (s *Server) handleAgentSubmitResult(w http.ResponseWriter, r *http.Request) {
	agent := agentFromContext(r)
	var req submitResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, ValidationError, "invalid request body: "+err.Error())
		return
	}
	result, err := s.coordinator.SubmitResult(r.Context(), agent.ID, req.RunID, req.ItemID, req.ItemName, req.Status, req.Detail, req.Suggestion)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
