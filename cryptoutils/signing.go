package cryptoutils

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/veilkey/capability-backend/interfaces"
)

// SignPayload signs a payload with RSA-PSS over SHA-256.
func SignPayload(privateKey PrivateKeyPEM, payload []byte) ([]byte, error) {
	rsaPriv, err := privateKey.GetRSAPrivateKey()
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(payload)
	signature, err := rsa.SignPSS(rand.Reader, rsaPriv, crypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to sign payload: %w", err)
	}

	return signature, nil
}

// VerifySignature verifies an RSA-PSS signature over a payload against a
// role's signing public key.
func VerifySignature(publicKey PublicKeyPEM, payload, signature []byte) error {
	rsaPub, err := publicKey.GetRSAPublicKey()
	if err != nil {
		return err
	}

	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPSS(rsaPub, crypto.SHA256, digest[:], signature, nil); err != nil {
		return interfaces.ErrAuthentication
	}

	return nil
}
