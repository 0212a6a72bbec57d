package interfaces

import "errors"

var (
	// ErrPreconditionRequired is returned when the session's master secret is
	// not established or cannot unseal the principal's root keys. The caller
	// must re-authenticate before any key-ring operation can proceed.
	ErrPreconditionRequired = errors.New("master secret not established")

	// ErrForbidden is returned when the caller's key ring lacks a capability
	// key required for the requested operation.
	ErrForbidden = errors.New("missing required capability")

	// ErrNotFound is returned when a referenced role, item, share or request
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on duplicate grants, duplicate recovery
	// approvals and re-acceptance of a pending share. Grants are
	// append-then-revoke, never update-in-place.
	ErrConflict = errors.New("conflicting state transition")

	// ErrAuthentication is returned when symmetric ciphertext fails to open.
	// Wrong key, tampered data and wrong context binding are deliberately
	// indistinguishable.
	ErrAuthentication = errors.New("ciphertext authentication failed")

	// ErrDecryption is returned when asymmetric ciphertext fails to open.
	// Callers must not surface why decryption failed beyond "invalid".
	ErrDecryption = errors.New("decryption failed")

	// ErrBadRequest is returned for structurally invalid input, such as a
	// malformed access level or a transition on a terminal recovery request.
	ErrBadRequest = errors.New("invalid request")

	// ErrCorruptGraph is returned when a role is reachable over multiple
	// delegation paths and the decrypted key copies disagree. The engine
	// never silently prefers one copy.
	ErrCorruptGraph = errors.New("delegation graph is corrupt")
)
