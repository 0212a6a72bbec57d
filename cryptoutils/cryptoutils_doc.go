/*
Package cryptoutils implements the envelope crypto primitive underneath the
capability engine.

# Symmetric envelope

Seal and Open provide AES-256-GCM authenticated encryption with a
context-binding byte string as associated data, typically the protected
entity's identifier. Ciphertext sealed for one entity cannot be replayed as
another's: opening with the wrong context fails exactly like opening with the
wrong key, so no oracle distinguishes the two.

# Asymmetric envelope

SealToPublicKey and OpenWithPrivateKey are used only at trust boundaries
where the decrypting party's symmetric keys are not yet known, such as
pending shares and recovery shares. The payload is sealed under a fresh
AES-256-GCM key which is in turn wrapped with RSA-OAEP, so payloads of any
size fit. The wire format is

	[wrapped key length (2 bytes)][wrapped key][nonce][ciphertext]

# Hashing

KeyedHash is an HMAC-SHA256 blind index: a deterministic, key-dependent
digest that lets the store index encrypted-at-rest fields by equality
without revealing them to anyone lacking the key. CommitmentHash is an
unkeyed SHA-256 commitment used for recovery share codes, checkable by any
party holding the code and only by such a party.

# Signing

SignPayload and VerifySignature implement RSA-PSS over SHA-256 for the
audit ledger's non-repudiable entries.

Plaintext key material produced here must never outlive the request or
session that derived it, and must never be logged.
*/
package cryptoutils
