package license

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func testKey() []byte {
	return []byte("test-signing-key-0123456789abcdef")
}

func validPayload() Payload {
	now := time.Now().UTC()
	return Payload{
		Product:   "inspectord",
		Licensee:  "Acme Co",
		IssuedAt:  now.Add(-time.Hour),
		NotBefore: now.Add(-time.Hour),
		ExpiresAt: now.Add(24 * time.Hour),
		Features:  []string{"clusters", "Inspections", "REPORTS"},
	}
}

func TestGuard_ValidLicenseGrantsFeatures(t *testing.T) {
	key := testKey()
	blob, err := Encode(validPayload(), key)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	g := NewGuard(key)
	status, err := g.Install(blob)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !status.Valid {
		t.Fatalf("expected valid license, got reason %q", status.Reason)
	}
	for _, f := range []string{"clusters", "inspections", "reports", "REPORTS"} {
		if !status.Has(f) {
			t.Errorf("expected feature %q to be granted", f)
		}
	}
	if status.Has("nonexistent") {
		t.Error("did not expect unrecognised feature to be granted")
	}
}

func TestGuard_TamperedSignatureRejected(t *testing.T) {
	key := testKey()
	blob, _ := Encode(validPayload(), key)

	// Tamper the payload bytes directly so the signature no longer matches.
	parts := strings.SplitN(blob, ":", 3)
	payload, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	edited := strings.Replace(string(payload), "Acme", "Evil", 1)
	tampered := parts[0] + ":" + base64.StdEncoding.EncodeToString([]byte(edited)) + ":" + parts[2]
	corrupted := parts[0] + ":" + parts[1] + "x" + ":" + parts[2]

	g := NewGuard(key)
	for _, raw := range []string{tampered, corrupted} {
		status, err := g.Install(raw)
		if err == nil && status.Valid {
			t.Errorf("expected invalid status for tampered/corrupted blob %q", raw)
		}
	}
}

func TestGuard_InvalidSignatureStaysInvalidOnStatus(t *testing.T) {
	blob, _ := Encode(validPayload(), testKey())
	g := NewGuard([]byte("a-completely-different-key"))
	if _, err := g.Install(blob); err != nil {
		t.Fatalf("Install: %v", err)
	}

	// A failed signature check must not be laundered into validity by the
	// wall-clock re-evaluation on read.
	status := g.Status()
	if status.Valid {
		t.Fatal("Status() reported an unverified license as valid")
	}
	if status.Reason != "signature invalid" {
		t.Errorf("want reason 'signature invalid', got %q", status.Reason)
	}
	if status.Has("clusters") {
		t.Error("unverified license must grant no features")
	}
}

func TestGuard_WrongKeyRejected(t *testing.T) {
	blob, _ := Encode(validPayload(), testKey())
	g := NewGuard([]byte("a-completely-different-key"))
	status, err := g.Install(blob)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if status.Valid {
		t.Fatal("expected signature verification to fail with wrong key")
	}
	if status.Reason != "signature invalid" {
		t.Errorf("want reason 'signature invalid', got %q", status.Reason)
	}
}

func TestGuard_Expired(t *testing.T) {
	key := testKey()
	p := validPayload()
	p.ExpiresAt = time.Now().Add(-time.Hour)
	blob, _ := Encode(p, key)

	g := NewGuard(key)
	status, err := g.Install(blob)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if status.Valid {
		t.Fatal("expected expired license to be invalid")
	}
	if !strings.Contains(status.Reason, "expired at") {
		t.Errorf("want reason to mention expiry, got %q", status.Reason)
	}
}

func TestGuard_NotYetValid(t *testing.T) {
	key := testKey()
	p := validPayload()
	p.NotBefore = time.Now().Add(time.Hour)
	blob, _ := Encode(p, key)

	g := NewGuard(key)
	status, err := g.Install(blob)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if status.Valid {
		t.Fatal("expected not-yet-valid license to be invalid")
	}
	if !strings.Contains(status.Reason, "not yet valid") {
		t.Errorf("want reason to mention not-yet-valid, got %q", status.Reason)
	}
}

func TestGuard_NoLicenseInstalled(t *testing.T) {
	g := NewGuard(testKey())
	status := g.Status()
	if status.Valid {
		t.Fatal("fresh guard should report invalid")
	}
	if status.Reason != "no license installed" {
		t.Errorf("want 'no license installed', got %q", status.Reason)
	}
}

func TestGuard_MalformedBlobRejected(t *testing.T) {
	g := NewGuard(testKey())
	for _, raw := range []string{"", "garbage", "ENC-LICENSE-V1:onlyonepart", "WRONG-HEADER:YQ==:YQ=="} {
		if _, err := g.Install(raw); err == nil {
			t.Errorf("expected parse error for %q", raw)
		}
	}
}

func TestGuard_RequireFeature(t *testing.T) {
	key := testKey()
	p := validPayload()
	p.Features = []string{"clusters"}
	blob, _ := Encode(p, key)

	g := NewGuard(key)
	if _, err := g.Install(blob); err != nil {
		t.Fatalf("Install: %v", err)
	}

	if err := g.RequireFeature(FeatureClusters); err != nil {
		t.Errorf("RequireFeature(clusters): unexpected error %v", err)
	}
	err := g.RequireFeature(FeatureInspections)
	if err == nil {
		t.Fatal("expected denial for missing 'inspections' feature")
	}
	var denied *ErrDenied
	if !asErrDenied(err, &denied) {
		t.Fatalf("expected *ErrDenied, got %T", err)
	}
	if !strings.Contains(denied.Reason, "inspections") {
		t.Errorf("reason should mention missing feature, got %q", denied.Reason)
	}
}

func asErrDenied(err error, target **ErrDenied) bool {
	d, ok := err.(*ErrDenied)
	if ok {
		*target = d
	}
	return ok
}
