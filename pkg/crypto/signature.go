package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"fmt"
)

// PEMBlockType is the PEM block type used to encode Ed25519 public keys for
// address derivation, matching the wallet's on-wire key format.
const PEMBlockType = "PUBLIC KEY"

// KeyPair is an Ed25519 identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new random Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeed reconstructs a key pair from a 32-byte Ed25519 seed.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// PEMPublicKey encodes the public key as a PEM "PUBLIC KEY" block.
func PEMPublicKey(pub ed25519.PublicKey) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: PEMBlockType, Bytes: pub})
}

// Address derives the address (lowercase hex SHA-256 of the PEM-encoded
// public key) owned by this key pair.
func (k *KeyPair) Address() string {
	return AddressFromPEM(PEMPublicKey(k.Public))
}

// Sign signs the hex-decoded bytes of a transaction id. The message
// signed is the hex id interpreted as raw bytes, not its ASCII
// representation; VerifySignature enforces the same convention.
func (k *KeyPair) Sign(txIDHex string) ([]byte, error) {
	msg, err := hex.DecodeString(txIDHex)
	if err != nil {
		return nil, fmt.Errorf("decode tx id hex: %w", err)
	}
	return ed25519.Sign(k.Private, msg), nil
}

// VerifySignature checks an Ed25519 signature over the hex-decoded bytes of
// txIDHex under publicKey (raw, not PEM-encoded).
func VerifySignature(txIDHex string, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	msg, err := hex.DecodeString(txIDHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), msg, signature)
}

// AddressFromPublicKeyBytes derives the address owned by a raw (non-PEM)
// Ed25519 public key by PEM-encoding it first. A transaction input's
// PublicKey field carries the PEM text, not raw bytes.
func AddressFromPublicKeyBytes(publicKey []byte) string {
	return AddressFromPEM(PEMPublicKey(ed25519.PublicKey(publicKey)))
}

// RawKeyFromPEM extracts the raw Ed25519 public key bytes from a
// PEM-encoded "PUBLIC KEY" block. Returns nil if pemStr is not valid PEM.
func RawKeyFromPEM(pemStr string) []byte {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil
	}
	return block.Bytes
}
