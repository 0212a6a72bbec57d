package cryptoutils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilkey/capability-backend/interfaces"
)

func TestGenerateRoleKeyPair(t *testing.T) {
	pair, err := GenerateRoleKeyPair()
	require.NoError(t, err, "Key generation should succeed")

	require.NoError(t, pair.Public.Validate(), "Public key should be valid PEM")

	priv, err := pair.Private.GetRSAPrivateKey()
	require.NoError(t, err, "Private key should parse")
	assert.Equal(t, 2048, priv.N.BitLen(), "Key should be RSA-2048")
}

func TestSealToPublicKeyRoundTrip(t *testing.T) {
	pair, err := GenerateRoleKeyPair()
	require.NoError(t, err)

	// Larger than a single RSA block on purpose; the hybrid scheme must
	// handle payloads of any size.
	payload := bytes.Repeat([]byte("capability"), 100)

	sealed, err := SealToPublicKey(pair.Public, payload)
	require.NoError(t, err, "Seal should succeed")

	opened, err := OpenWithPrivateKey(pair.Private, sealed)
	require.NoError(t, err, "Open should succeed with the matching private key")
	assert.Equal(t, payload, opened)
}

func TestOpenWithWrongPrivateKey(t *testing.T) {
	pair, err := GenerateRoleKeyPair()
	require.NoError(t, err)
	otherGuy, err := GenerateRoleKeyPair()
	require.NoError(t, err)

	sealed, err := SealToPublicKey(pair.Public, []byte("secret term"))
	require.NoError(t, err)

	_, err = OpenWithPrivateKey(otherGuy.Private, sealed)
	assert.ErrorIs(t, err, interfaces.ErrDecryption, "Wrong key must fail with ErrDecryption and no detail")
}

func TestOpenWithMalformedCiphertext(t *testing.T) {
	pair, err := GenerateRoleKeyPair()
	require.NoError(t, err)

	for _, data := range [][]byte{{}, {0x00}, {0xff, 0xff, 0x01}} {
		_, err = OpenWithPrivateKey(pair.Private, data)
		assert.ErrorIs(t, err, interfaces.ErrDecryption, "Malformed input must fail with ErrDecryption")
	}
}

func TestSignVerify(t *testing.T) {
	pair, err := GenerateRoleKeyPair()
	require.NoError(t, err)

	payload := []byte(`{"op":"role.created","role":"r1"}`)
	signature, err := SignPayload(pair.Private, payload)
	require.NoError(t, err, "Signing should succeed")

	assert.NoError(t, VerifySignature(pair.Public, payload, signature), "Signature should verify")

	assert.ErrorIs(t, VerifySignature(pair.Public, []byte("other payload"), signature),
		interfaces.ErrAuthentication, "Signature over a different payload must not verify")

	otherGuy, err := GenerateRoleKeyPair()
	require.NoError(t, err)
	assert.ErrorIs(t, VerifySignature(otherGuy.Public, payload, signature),
		interfaces.ErrAuthentication, "Signature must not verify against another key")
}
