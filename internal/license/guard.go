package license

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Feature tags understood by the orchestration core. Tags are compared
// case-insensitively; a license may carry additional tags the core does not
// recognise without effect.
const (
	FeatureClusters    = "clusters"
	FeatureInspections = "inspections"
	FeatureReports     = "reports"
)

// Status is the outcome of verifying a license blob: whether it is valid
// right now, the reason when it is not, and the normalised feature set it
// grants.
type Status struct {
	Valid    bool
	Reason   string
	Features map[string]struct{}
	Payload  Payload

	// verified records that the blob's signature checked out. Only a
	// verified status may flip between valid and invalid as the time
	// window opens or closes; a status that failed verification stays
	// invalid with its original reason forever.
	verified bool
}

// Has reports whether the license grants feature (case-insensitive).
func (s Status) Has(feature string) bool {
	if !s.Valid {
		return false
	}
	_, ok := s.Features[strings.ToLower(feature)]
	return ok
}

// Guard verifies license blobs against a server-held signing key and
// answers feature-gating questions for the HTTP layer. A Guard from
// NewGuard with no blob installed reports "no license installed".
type Guard struct {
	signer *signer
	status Status
}

// NewGuard creates a Guard that verifies blobs with key. key is typically
// sourced from the LICENSE_SECRET environment variable.
func NewGuard(key []byte) *Guard {
	return &Guard{
		signer: newSigner(key),
		status: Status{Valid: false, Reason: "no license installed"},
	}
}

// Install decodes, verifies, and activates raw as the current license. It
// returns the resulting status; errors are communicated through the
// status's Reason field rather than the return error, except for blobs that
// are too malformed to parse at all.
func (g *Guard) Install(raw string) (Status, error) {
	status, err := g.evaluate(raw, time.Now())
	if err != nil {
		return Status{}, err
	}
	g.status = status
	return status, nil
}

// Status returns the currently active license status. A verified license is
// re-evaluated against the current wall clock (one that was valid at
// install time can become expired later without a new Install call); an
// unverified one — no blob installed, or a blob whose signature failed —
// keeps its stored reason.
func (g *Guard) Status() Status {
	if !g.status.verified {
		return g.status
	}
	return recheckTime(g.status)
}

// evaluate parses and verifies raw, returning a fully populated Status. A
// non-nil error means raw could not even be parsed into a blob; anything
// else (bad signature, expired, not yet valid) is reported through
// Status.Reason with Valid=false.
func (g *Guard) evaluate(raw string, now time.Time) (Status, error) {
	payloadBytes, sigBytes, err := parseBlob(raw)
	if err != nil {
		return Status{}, fmt.Errorf("parse license blob: %w", err)
	}

	if !g.signer.verify(payloadBytes, sigBytes) {
		return Status{Valid: false, Reason: "signature invalid"}, nil
	}

	var p Payload
	if err := json.Unmarshal(payloadBytes, &p); err != nil {
		return Status{}, fmt.Errorf("unmarshal license payload: %w", err)
	}

	features := make(map[string]struct{}, len(p.Features))
	for _, f := range p.Features {
		features[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}

	status := Status{Payload: p, Features: features, verified: true}
	return timeCheck(status, now), nil
}

func timeCheck(status Status, now time.Time) Status {
	p := status.Payload
	if !p.NotBefore.IsZero() && now.Before(p.NotBefore) {
		status.Valid = false
		status.Reason = fmt.Sprintf("not yet valid (effective %s)", p.NotBefore.Format(time.RFC3339))
		return status
	}
	if !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt) {
		status.Valid = false
		status.Reason = fmt.Sprintf("expired at %s", p.ExpiresAt.Format(time.RFC3339))
		return status
	}
	status.Valid = true
	status.Reason = ""
	return status
}

func recheckTime(status Status) Status {
	return timeCheck(status, time.Now())
}

// ErrDenied is returned (wrapped with the reason) by RequireFeature when a
// request is not covered by the active license.
type ErrDenied struct {
	Feature string
	Reason  string
}

func (e *ErrDenied) Error() string {
	return fmt.Sprintf("license denied for %q: %s", e.Feature, e.Reason)
}

// RequireFeature returns a non-nil *ErrDenied if feature is not granted by
// the currently active license.
func (g *Guard) RequireFeature(feature string) error {
	status := g.Status()
	if status.Has(feature) {
		return nil
	}
	reason := status.Reason
	if reason == "" {
		reason = fmt.Sprintf("license does not grant %q", feature)
	}
	return &ErrDenied{Feature: feature, Reason: reason}
}
