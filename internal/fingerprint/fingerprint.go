// Package fingerprint derives the opaque keys used in place of raw account
// numbers. Fingerprints must be comparable across independent check and
// report calls, so the hash is deterministic and unsalted.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash maps an identifier to its one-way fingerprint. Same input always
// yields the same output; there is no practical inverse. Callers validate
// that the identifier is non-empty before hashing.
func Hash(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}
