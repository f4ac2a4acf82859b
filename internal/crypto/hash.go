// this file provides the SHA-256 hashing functions used throughout the engine.
//
// SHA-256 hex digests are used for:
//   1. Canonical JSON documents (credential payloads, audit entry payloads)
//   2. Audit ledger chain links (hash of the previous entry)

package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hash calculates a SHA-256 digest and returns it as a hex string.
//
// Use this for canonical JSON and any data already in memory.
func Hash(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("data is empty")
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyHash verifies that data matches the expected SHA-256 digest.
func VerifyHash(data []byte, expected string) bool {
	digest, err := Hash(data)
	if err != nil {
		return false
	}
	return digest == expected
}
