package cryptoutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"fmt"

	"github.com/veilkey/capability-backend/interfaces"
)

const rsaKeyBits = 2048

// RoleKeyPair is one freshly generated RSA-2048 keypair in PEM encoding.
type RoleKeyPair struct {
	Public  PublicKeyPEM
	Private PrivateKeyPEM
}

// GenerateRoleKeyPair generates an RSA-2048 keypair for a role's encryption
// or signing identity.
func GenerateRoleKeyPair() (*RoleKeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}

	privBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	return &RoleKeyPair{
		Public: pem.EncodeToMemory(&pem.Block{
			Type:  "PUBLIC KEY",
			Bytes: pubBytes,
		}),
		Private: pem.EncodeToMemory(&pem.Block{
			Type:  "PRIVATE KEY",
			Bytes: privBytes,
		}),
	}, nil
}

// SealToPublicKey encrypts data to an RSA public key using a hybrid scheme:
// the payload is sealed under a fresh AES-256-GCM key, which is wrapped with
// RSA-OAEP-SHA256. Used only at trust boundaries where the recipient's
// symmetric keys are not known.
//
// Format: [wrapped key length (2 bytes)][wrapped key][nonce][ciphertext]
func SealToPublicKey(publicKey PublicKeyPEM, data []byte) ([]byte, error) {
	rsaPub, err := publicKey.GetRSAPublicKey()
	if err != nil {
		return nil, err
	}

	ephemeralKey, err := NewSymmetricKey()
	if err != nil {
		return nil, err
	}

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, rsaPub, ephemeralKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap ephemeral key: %w", err)
	}

	sealed, err := Seal(ephemeralKey, data, nil)
	if err != nil {
		return nil, err
	}

	result := make([]byte, 2+len(wrappedKey)+len(sealed))
	binary.BigEndian.PutUint16(result[0:2], uint16(len(wrappedKey)))
	copy(result[2:2+len(wrappedKey)], wrappedKey)
	copy(result[2+len(wrappedKey):], sealed)

	return result, nil
}

// OpenWithPrivateKey decrypts data sealed by SealToPublicKey. Any failure is
// reported as ErrDecryption with no further detail.
func OpenWithPrivateKey(privateKey PrivateKeyPEM, encryptedData []byte) ([]byte, error) {
	rsaPriv, err := privateKey.GetRSAPrivateKey()
	if err != nil {
		return nil, err
	}

	if len(encryptedData) < 2 {
		return nil, interfaces.ErrDecryption
	}

	wrappedKeyLen := int(binary.BigEndian.Uint16(encryptedData[0:2]))
	if len(encryptedData) < 2+wrappedKeyLen+gcmNonceSize {
		return nil, interfaces.ErrDecryption
	}

	ephemeralKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, rsaPriv, encryptedData[2:2+wrappedKeyLen], nil)
	if err != nil {
		return nil, interfaces.ErrDecryption
	}

	plaintext, err := Open(SymmetricKey(ephemeralKey), encryptedData[2+wrappedKeyLen:], nil)
	if err != nil {
		return nil, interfaces.ErrDecryption
	}

	return plaintext, nil
}
