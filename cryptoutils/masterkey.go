package cryptoutils

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// MasterSaltSize is the size of the per-principal argon2 salt.
const MasterSaltSize = 16

// Argon2id parameters for deriving the session master secret.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// NewMasterSalt generates a fresh random salt for master secret derivation.
func NewMasterSalt() ([]byte, error) {
	salt := make([]byte, MasterSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveMasterSecret derives a principal's 256-bit master secret from a
// passphrase and salt with argon2id. The secret unseals the principal's root
// key entries once per session; it is never persisted.
func DeriveMasterSecret(passphrase, salt []byte) (SymmetricKey, error) {
	if len(salt) != MasterSaltSize {
		return nil, fmt.Errorf("master salt must be exactly %d bytes", MasterSaltSize)
	}

	return SymmetricKey(argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, SymmetricKeySize)), nil
}
