package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilkey/capability-backend/interfaces"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err, "Failed to generate key")

	plaintexts := [][]byte{
		[]byte("hello"),
		{},
		make([]byte, 4096),
	}
	contexts := [][]byte{
		[]byte("role-1234"),
		nil,
	}

	for _, plaintext := range plaintexts {
		for _, context := range contexts {
			sealed, err := Seal(key, plaintext, context)
			require.NoError(t, err, "Seal should succeed")

			opened, err := Open(key, sealed, context)
			require.NoError(t, err, "Open should succeed with the same key and context")
			assert.Equal(t, plaintext, opened, "Round trip should preserve the plaintext")
		}
	}
}

func TestSealBindsContext(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("payload"), []byte("item-1"))
	require.NoError(t, err)

	// Correct key, wrong context.
	_, err = Open(key, sealed, []byte("item-2"))
	assert.ErrorIs(t, err, interfaces.ErrAuthentication, "Wrong context must fail authentication")

	// Correct key, no context.
	_, err = Open(key, sealed, nil)
	assert.ErrorIs(t, err, interfaces.ErrAuthentication, "Missing context must fail authentication")
}

func TestOpenWrongKeyIndistinguishable(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)
	otherKey, err := NewSymmetricKey()
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("payload"), []byte("ctx"))
	require.NoError(t, err)

	_, errWrongKey := Open(otherKey, sealed, []byte("ctx"))
	_, errWrongContext := Open(key, sealed, []byte("other"))

	assert.ErrorIs(t, errWrongKey, interfaces.ErrAuthentication)
	assert.ErrorIs(t, errWrongContext, interfaces.ErrAuthentication)
	assert.Equal(t, errWrongKey.Error(), errWrongContext.Error(),
		"Wrong key and wrong context must be indistinguishable")
}

func TestOpenTamperedCiphertext(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)

	sealed, err := Seal(key, []byte("payload"), []byte("ctx"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = Open(key, sealed, []byte("ctx"))
	assert.ErrorIs(t, err, interfaces.ErrAuthentication, "Tampered ciphertext must fail authentication")

	_, err = Open(key, []byte{0x01, 0x02}, []byte("ctx"))
	assert.ErrorIs(t, err, interfaces.ErrAuthentication, "Truncated ciphertext must fail authentication")
}

func TestSealRejectsBadKey(t *testing.T) {
	_, err := Seal(SymmetricKey([]byte("short")), []byte("payload"), nil)
	assert.Error(t, err, "Seal should reject keys that are not 32 bytes")

	_, err = Open(SymmetricKey([]byte("short")), []byte("payload"), nil)
	assert.Error(t, err, "Open should reject keys that are not 32 bytes")
}
