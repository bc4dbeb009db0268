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
	"errors"
	"net/http"

	"github.com/qen-labs/inspectord/internal/agentcoord"
	"github.com/qen-labs/inspectord/internal/license"
	"github.com/qen-labs/inspectord/internal/store"
)

// Kind classifies an API error so the HTTP layer can pick a status code
// without the handler that raised it knowing about transport concerns.
type Kind string

const (
	ValidationError       Kind = "validation_error"
	NotFound              Kind = "not_found"
	Conflict              Kind = "conflict"
	LicenseDenied         Kind = "license_denied"
	AgentUnauthenticated  Kind = "agent_unauthenticated"
	DependencyUnavailable Kind = "dependency_unavailable"
	Internal              Kind = "internal"
)

var kindStatus = map[Kind]int{
	ValidationError:       http.StatusBadRequest,
	NotFound:              http.StatusNotFound,
	Conflict:              http.StatusConflict,
	LicenseDenied:         http.StatusForbidden,
	AgentUnauthenticated:  http.StatusUnauthorized,
	DependencyUnavailable: http.StatusBadGateway,
	Internal:              http.StatusInternalServerError,
}

// APIError is the wire shape of every non-2xx response body.
type APIError struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Kind   Kind   `json:"kind"`
}

// writeJSONError writes a JSON-encoded APIError with the status code kind
// maps to. The message doubles as the reason; use writeJSONErrorReason when
// a distinct underlying reason exists.
func writeJSONError(w http.ResponseWriter, kind Kind, message string) {
	writeJSONErrorReason(w, kind, message, message)
}

func writeJSONErrorReason(w http.ResponseWriter, kind Kind, message, reason string) {
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIError{Error: message, Reason: reason, Kind: kind})
}

// writeStoreError maps a store sentinel error (or an agentcoord/license
// error) onto the right Kind. Anything unrecognised is Internal.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case store.IsNotFound(err):
		writeJSONError(w, NotFound, err.Error())
	case store.IsNameConflict(err):
		writeJSONError(w, Conflict, err.Error())
	case store.IsInvalidTransition(err):
		writeJSONError(w, Conflict, err.Error())
	case errors.Is(err, store.ErrAgentRequiredButAbsent):
		writeJSONError(w, ValidationError, err.Error())
	case errors.Is(err, agentcoord.ErrInvalidCredentials):
		writeJSONError(w, AgentUnauthenticated, err.Error())
	default:
		var denied *license.ErrDenied
		if errors.As(err, &denied) {
			writeJSONErrorReason(w, LicenseDenied, denied.Error(), denied.Reason)
			return
		}
		writeJSONError(w, Internal, err.Error())
	}
}
