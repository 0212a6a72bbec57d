package cryptoutils

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
)

// KeyedHash computes an HMAC-SHA256 blind index of data under a key. The
// digest is deterministic for a given (key, data) pair, so the store can
// index encrypted-at-rest fields by equality without revealing them to
// anyone lacking the key.
func KeyedHash(key SymmetricKey, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// CommitmentHash computes an unkeyed SHA-256 commitment to a secret. A party
// holding the secret can verify it against the digest; the digest alone
// reveals nothing useful about a high-entropy secret.
func CommitmentHash(secret []byte) []byte {
	digest := sha256.Sum256(secret)
	return digest[:]
}

// VerifyCommitment checks a secret against its commitment digest in
// constant time.
func VerifyCommitment(secret, digest []byte) bool {
	return hmac.Equal(CommitmentHash(secret), digest)
}

// XORTerms combines byte strings of equal length by XOR. With N random
// terms, any N-1 of them reveal nothing about the combination: the scheme is
// unanimous, not threshold.
func XORTerms(terms ...[]byte) ([]byte, error) {
	if len(terms) == 0 {
		return nil, errors.New("no terms to combine")
	}

	out := make([]byte, len(terms[0]))
	copy(out, terms[0])
	for _, term := range terms[1:] {
		if len(term) != len(out) {
			return nil, errors.New("term length mismatch")
		}
		for i := range out {
			out[i] ^= term[i]
		}
	}

	return out, nil
}
