package cryptoutils

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedHash(t *testing.T) {
	key, err := NewSymmetricKey()
	require.NoError(t, err)
	otherKey, err := NewSymmetricKey()
	require.NoError(t, err)

	first := KeyedHash(key, []byte("relationship:owner"))
	second := KeyedHash(key, []byte("relationship:owner"))
	assert.Equal(t, first, second, "Blind index must be deterministic per (key, data)")

	assert.NotEqual(t, first, KeyedHash(key, []byte("relationship:read")),
		"Different data must produce different indexes")
	assert.NotEqual(t, first, KeyedHash(otherKey, []byte("relationship:owner")),
		"Different keys must produce different indexes")
}

func TestCommitmentHash(t *testing.T) {
	code := make([]byte, 32)
	_, err := rand.Read(code)
	require.NoError(t, err)

	digest := CommitmentHash(code)
	assert.True(t, VerifyCommitment(code, digest), "The code holder can verify the commitment")
	assert.False(t, VerifyCommitment([]byte("wrong code"), digest), "A wrong code must not verify")
}

func TestXORTerms(t *testing.T) {
	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)

	// Split into server + 3 holder terms the same way the recovery protocol
	// does: random holder terms, server term folds in the secret.
	terms := make([][]byte, 3)
	server := make([]byte, 32)
	copy(server, secret)
	for i := range terms {
		terms[i] = make([]byte, 32)
		_, err := rand.Read(terms[i])
		require.NoError(t, err)
		for j := range server {
			server[j] ^= terms[i][j]
		}
	}

	combined, err := XORTerms(server, terms[0], terms[1], terms[2])
	require.NoError(t, err)
	assert.Equal(t, secret, combined, "All terms together reconstruct the secret")

	// Leaving any one term out yields an unrelated value: N-1 of N terms
	// reveal nothing.
	partial, err := XORTerms(server, terms[0], terms[1])
	require.NoError(t, err)
	assert.NotEqual(t, secret, partial, "Missing one term must not reconstruct the secret")
}

func TestXORTermsLengthMismatch(t *testing.T) {
	_, err := XORTerms([]byte{0x01, 0x02}, []byte{0x01})
	assert.Error(t, err, "Mismatched term lengths must be rejected")

	_, err = XORTerms()
	assert.Error(t, err, "Zero terms must be rejected")
}

func TestDeriveMasterSecret(t *testing.T) {
	salt, err := NewMasterSalt()
	require.NoError(t, err)

	first, err := DeriveMasterSecret([]byte("correct horse battery staple"), salt)
	require.NoError(t, err)
	require.NoError(t, first.Validate())

	second, err := DeriveMasterSecret([]byte("correct horse battery staple"), salt)
	require.NoError(t, err)
	assert.Equal(t, first, second, "Derivation must be deterministic per (passphrase, salt)")

	otherSalt, err := NewMasterSalt()
	require.NoError(t, err)
	third, err := DeriveMasterSecret([]byte("correct horse battery staple"), otherSalt)
	require.NoError(t, err)
	assert.NotEqual(t, first, third, "Different salts must derive different secrets")

	_, err = DeriveMasterSecret([]byte("pw"), []byte("short"))
	assert.Error(t, err, "Wrong salt length must be rejected")
}
