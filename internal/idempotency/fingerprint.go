// Package idempotency implements the check-and-claim protocol that collapses
// duplicate submissions of a logically identical request to a single
// posting. Fingerprinting is grounded in the teacher's
// internal/pkg/idempotency.GenerateKey (a deterministic SHA-256 hash over
// the operation's identifying fields), generalized here to hash a
// canonicalised request body instead of two integer fields.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint computes the 256-bit request hash over
// (clientID, operationType, canonicalised body, window). window should be
// floor(timestamp / configured window size) so that identical requests
// within the same window collide and requests in different windows don't.
func Fingerprint(clientID, operationType string, body any, window int64) (string, error) {
	canonical, err := canonicalise(body)
	if err != nil {
		return "", fmt.Errorf("canonicalise request body: %w", err)
	}

	data := fmt.Sprintf("%s\x00%s\x00%s\x00%d", clientID, operationType, canonical, window)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:]), nil
}

// canonicalise produces a stable JSON encoding of an arbitrary request body.
// It round-trips through a generic value rather than hashing the caller's
// marshaled struct directly, so that struct field order never leaks into
// the fingerprint: encoding/json already sorts map[string]any keys on
// marshal, which is what makes the round-trip canonical.
func canonicalise(body any) (string, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}

	out, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
