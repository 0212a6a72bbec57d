package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/veilkey/capability-backend/interfaces"
)

const gcmNonceSize = 12

// Seal encrypts plaintext under a symmetric key with AES-256-GCM, binding
// context as associated data. The context is typically the protected
// entity's identifier so that ciphertext from one entity cannot be replayed
// as another's. The output is nonce || ciphertext.
func Seal(key SymmetricKey, plaintext, context []byte) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aesGCM.Seal(nonce, nonce, plaintext, context), nil
}

// Open decrypts ciphertext produced by Seal. A wrong key, tampered data and
// a wrong context all fail with the same ErrAuthentication; callers must not
// try to distinguish them.
func Open(key SymmetricKey, ciphertext, context []byte) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	if len(ciphertext) < gcmNonceSize {
		return nil, interfaces.ErrAuthentication
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aesGCM.Open(nil, ciphertext[:gcmNonceSize], ciphertext[gcmNonceSize:], context)
	if err != nil {
		// No detail: the failure reason must stay indistinguishable.
		return nil, interfaces.ErrAuthentication
	}

	return plaintext, nil
}
