// Package canonicalization provides canonical fingerprint generation for the
// errors entity's dedup key.
//
// Key functions:
//   - Fingerprint: the errors-entity fingerprint (SHA256 of six normalized,
//     pipe-joined fields)
//
// All IDs use SHA256 hashing for determinism and collision resistance.
package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint computes the errors-entity dedup key described by invariant I8:
// SHA256 of the six fingerprint fields, each passed through Normalize, joined
// by "|". Both the SQL digest() path (when pgcrypto is installed) and this
// application-code fallback MUST produce byte-identical hex output, since the
// merger chooses between them per-database without changing observed data.
//
// Parameters, in order: description, orderID, evalPhaseID, severity,
// evalPhaseEventID, blamedPhaseEventID.
func Fingerprint(description, orderID, evalPhaseID, severity, evalPhaseEventID, blamedPhaseEventID string) string {
	fields := []string{description, orderID, evalPhaseID, severity, evalPhaseEventID, blamedPhaseEventID}
	for i, f := range fields {
		fields[i] = Normalize(f)
	}

	return hashSHA256(strings.Join(fields, "|"))
}

// hashSHA256 computes the SHA256 hash of the input string.
//
// Returns: 64-character lowercase hex string (SHA256 output).
func hashSHA256(input string) string {
	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}
