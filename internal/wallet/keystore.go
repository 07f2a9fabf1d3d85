package wallet

import (
	"crypto/ed25519"
	"fmt"
	"os"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
)

// fileMode restricts a keystore file to owner read/write, since it
// contains (encrypted) key material.
const fileMode = 0o600

// CreateKeystore generates a new Ed25519 identity, encrypts its seed with
// password, and writes it to path.
func CreateKeystore(path string, password []byte) (*crypto.KeyPair, error) {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	seed := kp.Private.Seed()
	encrypted, err := Encrypt(seed, password, DefaultParams())
	if err != nil {
		return nil, fmt.Errorf("encrypt seed: %w", err)
	}
	if err := os.WriteFile(path, encrypted, fileMode); err != nil {
		return nil, fmt.Errorf("write keystore: %w", err)
	}
	return kp, nil
}

// OpenKeystore reads and decrypts the identity stored at path.
func OpenKeystore(path string, password []byte) (*crypto.KeyPair, error) {
	encrypted, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	seed, err := Decrypt(encrypted, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keystore seed has unexpected length %d", len(seed))
	}
	kp, err := crypto.KeyPairFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("reconstruct keypair: %w", err)
	}
	return kp, nil
}

// Exists reports whether a keystore file is already present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
