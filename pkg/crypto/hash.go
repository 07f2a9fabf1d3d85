// Package crypto provides the hashing, addressing, and signing primitives
// used across the chain: SHA-256 hex hashing and Ed25519 signatures.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSize is the length in bytes of a SHA-256 digest.
const HashSize = sha256.Size

// Hash returns the lowercase hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AddressFromPEM derives an address as the lowercase hex SHA-256 of a
// PEM-encoded Ed25519 public key.
func AddressFromPEM(pemBytes []byte) string {
	return Hash(pemBytes)
}
