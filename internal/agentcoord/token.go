/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package agentcoord is the Agent Coordination Plane: it registers external
// agents, authenticates their calls, hands them queued work under a lease,
// and accepts their submitted results.
package agentcoord

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// generateToken returns a new bearer token in the form agt_<32 hex chars>.
// The raw value is shown to the operator exactly once, at registration or
// rotation time; only its bcrypt hash is ever persisted.
func generateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate agent token: %w", err)
	}
	return "agt_" + hex.EncodeToString(buf), nil
}

func hashToken(token string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash agent token: %w", err)
	}
	return string(hashed), nil
}

// tokenMatches reports whether token hashes to hash, in constant time with
// respect to the token's content (bcrypt's comparison is deliberately slow
// and content-independent).
func tokenMatches(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil
}
