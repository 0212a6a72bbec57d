package cryptoutils

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// SymmetricKeySize is the size of every capability and data key.
const SymmetricKeySize = 32

// SymmetricKey is a 256-bit symmetric capability or data key. It exists in
// plaintext only transiently, inside one request's key ring.
type SymmetricKey []byte

// NewSymmetricKey generates a fresh random 256-bit key.
func NewSymmetricKey() (SymmetricKey, error) {
	key := make([]byte, SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate symmetric key: %w", err)
	}
	return key, nil
}

// Validate checks the key length.
func (k SymmetricKey) Validate() error {
	if len(k) != SymmetricKeySize {
		return errors.New("symmetric key must be exactly 32 bytes")
	}
	return nil
}

// Equal reports whether two keys match. Constant time is not required:
// keys are compared only for graph consistency checks, never as an
// authentication decision.
func (k SymmetricKey) Equal(other SymmetricKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// PublicKeyPEM is an RSA public key in PKIX PEM encoding.
type PublicKeyPEM []byte

// NewPublicKeyPEM validates PEM-encoded public key material.
func NewPublicKeyPEM(data []byte) (PublicKeyPEM, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "PUBLIC KEY" {
		return nil, errors.New("invalid public key: not in PEM format or not a public key")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("invalid public key structure: %w", err)
	}

	if _, ok := pub.(*rsa.PublicKey); !ok {
		return nil, errors.New("not an RSA public key")
	}

	return PublicKeyPEM(data), nil
}

// Validate checks whether the key is properly formed.
func (k PublicKeyPEM) Validate() error {
	_, err := NewPublicKeyPEM(k)
	return err
}

// GetRSAPublicKey returns the parsed RSA public key.
func (k PublicKeyPEM) GetRSAPublicKey() (*rsa.PublicKey, error) {
	block, _ := pem.Decode(k)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

// PrivateKeyPEM is an RSA private key in PKCS#8 PEM encoding. It is stored
// and transmitted exclusively inside sealed blobs.
type PrivateKeyPEM []byte

// GetRSAPrivateKey returns the parsed RSA private key.
func (k PrivateKeyPEM) GetRSAPrivateKey() (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(k)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	priv, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	rsaPriv, ok := priv.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA private key")
	}
	return rsaPriv, nil
}
