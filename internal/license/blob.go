package license

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// blobHeader is the fixed prefix every license blob must start with.
const blobHeader = "ENC-LICENSE-V1"

// Payload is the decoded, not-yet-verified body of a license blob.
type Payload struct {
	Product   string    `json:"product"`
	Licensee  string    `json:"licensee"`
	IssuedAt  time.Time `json:"issued_at"`
	NotBefore time.Time `json:"not_before"`
	ExpiresAt time.Time `json:"expires_at"`
	Features  []string  `json:"features"`
}

// parseBlob splits a raw blob of the form
// "ENC-LICENSE-V1:<base64-payload>:<base64-signature>" into its payload
// bytes and signature bytes. It does not verify the signature.
func parseBlob(raw string) (payloadBytes, sigBytes []byte, err error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return nil, nil, fmt.Errorf("malformed license blob: expected 3 ':'-separated parts, got %d", len(parts))
	}
	if parts[0] != blobHeader {
		return nil, nil, fmt.Errorf("malformed license blob: unrecognised header %q", parts[0])
	}
	payloadBytes, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, nil, fmt.Errorf("decode payload: %w", err)
	}
	sigBytes, err = base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, nil, fmt.Errorf("decode signature: %w", err)
	}
	return payloadBytes, sigBytes, nil
}

// Encode serialises a payload and signs it with key, producing a blob in
// the canonical ENC-LICENSE-V1 wire format. Used by tests and by tooling
// that issues licenses; the running server only ever decodes blobs.
func Encode(p Payload, key []byte) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	sig := newSigner(key).sign(data)
	return fmt.Sprintf("%s:%s:%s", blobHeader,
		base64.StdEncoding.EncodeToString(data),
		base64.StdEncoding.EncodeToString(sig)), nil
}
