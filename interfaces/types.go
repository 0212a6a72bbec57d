package interfaces

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RoleID identifies a security principal or scope, the unit of key ownership
// and delegation.
type RoleID string

// NewRoleID creates a fresh random role identifier.
func NewRoleID() RoleID {
	return RoleID(uuid.NewString())
}

// ParseRoleID validates a role identifier received from an external caller.
func ParseRoleID(s string) (RoleID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: malformed role id", ErrBadRequest)
	}
	return RoleID(s), nil
}

// String returns the identifier as a string.
func (id RoleID) String() string {
	return string(id)
}

// EdgeID identifies a delegation edge between two roles.
type EdgeID string

// NewEdgeID creates a fresh random edge identifier.
func NewEdgeID() EdgeID {
	return EdgeID(uuid.NewString())
}

// ParseEdgeID validates an edge identifier received from an external caller.
func ParseEdgeID(s string) (EdgeID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: malformed edge id", ErrBadRequest)
	}
	return EdgeID(s), nil
}

// String returns the identifier as a string.
func (id EdgeID) String() string {
	return string(id)
}

// KeyEntryID identifies a persisted wrapped key.
type KeyEntryID string

// NewKeyEntryID creates a fresh random key entry identifier.
func NewKeyEntryID() KeyEntryID {
	return KeyEntryID(uuid.NewString())
}

// String returns the identifier as a string.
func (id KeyEntryID) String() string {
	return string(id)
}

// DataItemID identifies a protected content record.
type DataItemID string

// NewDataItemID creates a fresh random data item identifier.
func NewDataItemID() DataItemID {
	return DataItemID(uuid.NewString())
}

// ParseDataItemID validates a data item identifier from an external caller.
func ParseDataItemID(s string) (DataItemID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: malformed data item id", ErrBadRequest)
	}
	return DataItemID(s), nil
}

// String returns the identifier as a string.
func (id DataItemID) String() string {
	return string(id)
}

// GrantID identifies a role-to-data-item grant.
type GrantID string

// NewGrantID creates a fresh random grant identifier.
func NewGrantID() GrantID {
	return GrantID(uuid.NewString())
}

// ParseGrantID validates a grant identifier received from an external caller.
func ParseGrantID(s string) (GrantID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: malformed grant id", ErrBadRequest)
	}
	return GrantID(s), nil
}

// String returns the identifier as a string.
func (id GrantID) String() string {
	return string(id)
}

// PendingShareID identifies an in-flight asynchronous share.
type PendingShareID string

// NewPendingShareID creates a fresh random pending share identifier.
func NewPendingShareID() PendingShareID {
	return PendingShareID(uuid.NewString())
}

// ParsePendingShareID validates a pending share identifier from an external caller.
func ParsePendingShareID(s string) (PendingShareID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: malformed pending share id", ErrBadRequest)
	}
	return PendingShareID(s), nil
}

// String returns the identifier as a string.
func (id PendingShareID) String() string {
	return string(id)
}

// RecoveryKeyID identifies an active recovery configuration for a role.
type RecoveryKeyID string

// NewRecoveryKeyID creates a fresh random recovery key identifier.
func NewRecoveryKeyID() RecoveryKeyID {
	return RecoveryKeyID(uuid.NewString())
}

// String returns the identifier as a string.
func (id RecoveryKeyID) String() string {
	return string(id)
}

// RecoveryShareID identifies one holder's sealed recovery term.
type RecoveryShareID string

// NewRecoveryShareID creates a fresh random recovery share identifier.
func NewRecoveryShareID() RecoveryShareID {
	return RecoveryShareID(uuid.NewString())
}

// String returns the identifier as a string.
func (id RecoveryShareID) String() string {
	return string(id)
}

// RecoveryRequestID identifies a recovery ceremony.
type RecoveryRequestID string

// NewRecoveryRequestID creates a fresh random recovery request identifier.
func NewRecoveryRequestID() RecoveryRequestID {
	return RecoveryRequestID(uuid.NewString())
}

// ParseRecoveryRequestID validates a recovery request identifier from an external caller.
func ParseRecoveryRequestID(s string) (RecoveryRequestID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", fmt.Errorf("%w: malformed recovery request id", ErrBadRequest)
	}
	return RecoveryRequestID(s), nil
}

// String returns the identifier as a string.
func (id RecoveryRequestID) String() string {
	return string(id)
}

// RecoveryApprovalID identifies one holder's approval of a recovery request.
type RecoveryApprovalID string

// NewRecoveryApprovalID creates a fresh random approval identifier.
func NewRecoveryApprovalID() RecoveryApprovalID {
	return RecoveryApprovalID(uuid.NewString())
}

// String returns the identifier as a string.
func (id RecoveryApprovalID) String() string {
	return string(id)
}

// LedgerEntryID identifies an audit ledger entry.
type LedgerEntryID string

// NewLedgerEntryID creates a fresh random ledger entry identifier.
func NewLedgerEntryID() LedgerEntryID {
	return LedgerEntryID(uuid.NewString())
}

// String returns the identifier as a string.
func (id LedgerEntryID) String() string {
	return string(id)
}

// AccessLevel is the capability level attached to a delegation edge, a share
// or a data grant. Levels are strictly ordered: Owner implies Write implies
// Read. The reverse never holds.
type AccessLevel int

const (
	// AccessRead allows decrypting a role's data.
	AccessRead AccessLevel = iota + 1

	// AccessWrite allows decrypting and producing a role's data.
	AccessWrite

	// AccessOwner allows administering a role: delegating it further,
	// activating recovery and unsealing its private key blob.
	AccessOwner
)

// ParseAccessLevel parses an access level received from an external caller.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case "read":
		return AccessRead, nil
	case "write":
		return AccessWrite, nil
	case "owner":
		return AccessOwner, nil
	default:
		return 0, fmt.Errorf("%w: malformed access level %q", ErrBadRequest, s)
	}
}

// String returns the level name.
func (l AccessLevel) String() string {
	switch l {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessOwner:
		return "owner"
	default:
		return "unknown"
	}
}

// Valid reports whether the level is one of the three defined levels.
func (l AccessLevel) Valid() error {
	if l < AccessRead || l > AccessOwner {
		return fmt.Errorf("%w: malformed access level %d", ErrBadRequest, int(l))
	}
	return nil
}

// Includes reports whether the level subsumes another level.
func (l AccessLevel) Includes(other AccessLevel) bool {
	return l >= other
}

// KeyType classifies a wrapped key entry.
type KeyType int

const (
	// KeyRoleRead is a role's 256-bit read capability key.
	KeyRoleRead KeyType = iota + 1

	// KeyRoleWrite is a role's 256-bit write capability key.
	KeyRoleWrite

	// KeyRoleOwner is a role's 256-bit owner capability key.
	KeyRoleOwner

	// KeyData is a leaf data key protecting one data item.
	KeyData
)

// String returns the key type name.
func (t KeyType) String() string {
	switch t {
	case KeyRoleRead:
		return "role-read"
	case KeyRoleWrite:
		return "role-write"
	case KeyRoleOwner:
		return "role-owner"
	case KeyData:
		return "data"
	default:
		return "unknown"
	}
}

// KeyTypeForLevel maps an access level to the role key type of that level.
func KeyTypeForLevel(l AccessLevel) KeyType {
	switch l {
	case AccessRead:
		return KeyRoleRead
	case AccessWrite:
		return KeyRoleWrite
	case AccessOwner:
		return KeyRoleOwner
	default:
		return 0
	}
}

// ShareStatus is the state of a pending share. Transitions are one-way.
type ShareStatus int

const (
	// SharePending means the sealed payload awaits acceptance by the target.
	SharePending ShareStatus = iota + 1

	// ShareAccepted means the share has been materialized into a live edge.
	ShareAccepted
)

// String returns the status name.
func (s ShareStatus) String() string {
	switch s {
	case SharePending:
		return "pending"
	case ShareAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// RecoveryStatus is the state of a recovery request.
type RecoveryStatus int

const (
	// RecoveryPending means approvals are still outstanding.
	RecoveryPending RecoveryStatus = iota + 1

	// RecoveryReady means every active holder has approved.
	RecoveryReady

	// RecoveryCompleted is terminal; completion revokes all shares.
	RecoveryCompleted

	// RecoveryCanceled is terminal.
	RecoveryCanceled
)

// String returns the status name.
func (s RecoveryStatus) String() string {
	switch s {
	case RecoveryPending:
		return "pending"
	case RecoveryReady:
		return "ready"
	case RecoveryCompleted:
		return "completed"
	case RecoveryCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status rejects further transitions.
func (s RecoveryStatus) Terminal() bool {
	return s == RecoveryCompleted || s == RecoveryCanceled
}

// LedgerKind classifies an audit ledger entry.
type LedgerKind int

const (
	// LedgerKindKey records key material lifecycle events.
	LedgerKindKey LedgerKind = iota + 1

	// LedgerKindBusiness records sharing and data operations.
	LedgerKindBusiness

	// LedgerKindAuth records authentication and recovery events.
	LedgerKindAuth
)

// String returns the kind name.
func (k LedgerKind) String() string {
	switch k {
	case LedgerKindKey:
		return "key"
	case LedgerKindBusiness:
		return "business"
	case LedgerKindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Role is a security principal or scope. Its private key material is stored
// only inside EncryptedPrivateBlob, sealed under the role's own owner key. A
// role whose owner key has no remaining holder is cryptographically orphaned.
type Role struct {
	ID RoleID `json:"id"`

	// EncryptionPublicKey is the role's RSA encryption public key in PKIX PEM.
	EncryptionPublicKey []byte `json:"encryption_public_key"`

	// SigningPublicKey is the role's RSA signing public key in PKIX PEM.
	SigningPublicKey []byte `json:"signing_public_key"`

	// EncryptedPrivateBlob holds both private keys plus metadata, sealed
	// under the role's owner key with the role id as context.
	EncryptedPrivateBlob []byte `json:"encrypted_private_blob"`

	ProvenanceID LedgerEntryID `json:"provenance_id"`
	CreatedUTC   time.Time     `json:"created_utc"`
}

// RoleEdge is a directed delegation: the parent role may derive the child
// role's capability keys. The edge's access level is itself confidential; it
// is sealed under the parent's read key and blind-indexed so the store can
// look it up by equality without learning it.
type RoleEdge struct {
	ID           EdgeID `json:"id"`
	ParentRoleID RoleID `json:"parent_role_id"`
	ChildRoleID  RoleID `json:"child_role_id"`

	// EncryptedRelationship is the edge's access level sealed under the
	// parent's read key with the edge id as context.
	EncryptedRelationship []byte `json:"encrypted_relationship"`

	// RelationshipIndex is a keyed hash of the access level under the
	// parent's read key, for equality lookup at the store.
	RelationshipIndex []byte `json:"relationship_index"`

	// WrappedRead is the child's read key sealed under the parent's read key.
	WrappedRead []byte `json:"wrapped_read"`

	// WrappedWrite is the child's write key sealed under the parent's write
	// key. Present on write and owner edges only.
	WrappedWrite []byte `json:"wrapped_write,omitempty"`

	// WrappedOwner is the child's owner key sealed under the parent's owner
	// key. Present on owner edges only.
	WrappedOwner []byte `json:"wrapped_owner,omitempty"`

	ProvenanceID LedgerEntryID `json:"provenance_id"`
	CreatedUTC   time.Time     `json:"created_utc"`
	RevokedUTC   *time.Time    `json:"revoked_utc,omitempty"`
}

// Revoked reports whether the edge has been revoked.
func (e *RoleEdge) Revoked() bool {
	return e.RevokedUTC != nil
}

// KeyEntry is a persisted, wrapped instance of a capability key or a leaf
// data key. Rows are immutable once written except for RevokedUTC. Every
// entry's plaintext is recoverable from exactly one parent secret: the
// issuing principal's master secret for a role's own keys, the owner role's
// read key for data keys.
type KeyEntry struct {
	ID          KeyEntryID `json:"id"`
	KeyType     KeyType    `json:"key_type"`
	OwnerRoleID RoleID     `json:"owner_role_id"`

	// DataItemID is set for KeyData entries only.
	DataItemID DataItemID `json:"data_item_id,omitempty"`

	WrappedKey []byte `json:"wrapped_key"`

	ProvenanceID LedgerEntryID `json:"provenance_id"`
	CreatedUTC   time.Time     `json:"created_utc"`
	RevokedUTC   *time.Time    `json:"revoked_utc,omitempty"`
}

// Revoked reports whether the entry has been revoked.
func (e *KeyEntry) Revoked() bool {
	return e.RevokedUTC != nil
}

// DataItem is protected content owned by exactly one role. The content is
// sealed under a fresh data key with the item id as context; deleting that
// data key invalidates every grant at once.
type DataItem struct {
	ID          DataItemID `json:"id"`
	OwnerRoleID RoleID     `json:"owner_role_id"`

	// Ciphertext is the content sealed under the item's data key.
	Ciphertext []byte `json:"ciphertext"`

	// SigningPublicKey verifies writes to the item.
	SigningPublicKey []byte `json:"signing_public_key"`

	// ContentSignature is the writer's signature over the ciphertext,
	// produced with the item's signing key.
	ContentSignature []byte `json:"content_signature,omitempty"`

	ProvenanceID LedgerEntryID `json:"provenance_id"`
	CreatedUTC   time.Time     `json:"created_utc"`
}

// Grant binds a role to a data item's key at a permission level. A write
// grant carries the item's signing private key as well; writing requires
// both the data key and the signing key.
type Grant struct {
	ID         GrantID     `json:"id"`
	RoleID     RoleID      `json:"role_id"`
	DataItemID DataItemID  `json:"data_item_id"`
	Level      AccessLevel `json:"level"`

	// WrappedDataKey is the item's data key sealed under the grantee's read key.
	WrappedDataKey []byte `json:"wrapped_data_key"`

	// WrappedSigningKey is the item's signing private key sealed under the
	// grantee's write key. Present on write-capable grants only.
	WrappedSigningKey []byte `json:"wrapped_signing_key,omitempty"`

	ProvenanceID LedgerEntryID `json:"provenance_id"`
	CreatedUTC   time.Time     `json:"created_utc"`
	RevokedUTC   *time.Time    `json:"revoked_utc,omitempty"`
}

// Revoked reports whether the grant has been revoked.
func (g *Grant) Revoked() bool {
	return g.RevokedUTC != nil
}

// PendingShare is an in-flight asynchronous share awaiting acceptance. The
// payload is sealed to the target role's encryption public key because the
// granting principal cannot re-wrap for symmetric keys it does not hold.
type PendingShare struct {
	ID           PendingShareID `json:"id"`
	SourceRoleID RoleID         `json:"source_role_id"`
	TargetRoleID RoleID         `json:"target_role_id"`
	Level        AccessLevel    `json:"level"`

	// SealedPayload is sealed to the target's encryption public key.
	SealedPayload []byte `json:"sealed_payload"`

	Status       ShareStatus   `json:"status"`
	ProvenanceID LedgerEntryID `json:"provenance_id"`
	CreatedUTC   time.Time     `json:"created_utc"`
	AcceptedUTC  *time.Time    `json:"accepted_utc,omitempty"`
}

// RecoveryKey is the server-side custody record of one recovery
// configuration: the server's XOR term sealed under the target role's write
// key. At most one configuration is active per role.
type RecoveryKey struct {
	ID     RecoveryKeyID `json:"id"`
	RoleID RoleID        `json:"role_id"`

	// WrappedServerTerm is the server's XOR term sealed under the role's
	// write key with the recovery key id as context.
	WrappedServerTerm []byte `json:"wrapped_server_term"`

	// SealedOwnerKey is the role's owner key sealed under the recovery
	// secret, so reconstructing the secret restores administrative access.
	SealedOwnerKey []byte `json:"sealed_owner_key"`

	ProvenanceID LedgerEntryID `json:"provenance_id"`
	CreatedUTC   time.Time     `json:"created_utc"`
	RevokedUTC   *time.Time    `json:"revoked_utc,omitempty"`
}

// Revoked reports whether the configuration has been revoked.
func (k *RecoveryKey) Revoked() bool {
	return k.RevokedUTC != nil
}

// RecoveryShare is one holder's XOR term, sealed to the holder's encryption
// public key so only that holder can recover it. The holder additionally
// receives an out-of-band share code whose commitment digest is stored here.
type RecoveryShare struct {
	ID            RecoveryShareID `json:"id"`
	RecoveryKeyID RecoveryKeyID   `json:"recovery_key_id"`
	HolderRoleID  RoleID          `json:"holder_role_id"`

	// SealedTerm is the holder's XOR term sealed to its encryption public key.
	SealedTerm []byte `json:"sealed_term"`

	// ShareCodeDigest is the one-way commitment to the holder's share code.
	ShareCodeDigest []byte `json:"share_code_digest"`

	CreatedUTC time.Time  `json:"created_utc"`
	RevokedUTC *time.Time `json:"revoked_utc,omitempty"`
}

// Revoked reports whether the share has been revoked.
func (s *RecoveryShare) Revoked() bool {
	return s.RevokedUTC != nil
}

// RecoveryRequest is one recovery ceremony. It advances to Ready only when
// every active holder has approved; completion and cancellation are the only
// transitions out of Pending and Ready, and both are terminal.
type RecoveryRequest struct {
	ID            RecoveryRequestID `json:"id"`
	RecoveryKeyID RecoveryKeyID     `json:"recovery_key_id"`
	RoleID        RoleID            `json:"role_id"`

	Status RecoveryStatus `json:"status"`

	// RequiredApprovals is fixed at creation to the count of active shares.
	RequiredApprovals int `json:"required_approvals"`

	// RequesterPublicKey is the requester's session encryption public key in
	// PKIX PEM. Holder approvals seal their terms to it; the matching
	// private key never reaches the store.
	RequesterPublicKey []byte `json:"requester_public_key"`

	ProvenanceID LedgerEntryID `json:"provenance_id"`
	CreatedUTC   time.Time     `json:"created_utc"`
	ResolvedUTC  *time.Time    `json:"resolved_utc,omitempty"`
}

// RecoveryApproval is one holder's approval of a recovery request. The
// approval blob is opaque to the engine; only its uniqueness per
// (request, holder) is enforced.
type RecoveryApproval struct {
	ID           RecoveryApprovalID `json:"id"`
	RequestID    RecoveryRequestID  `json:"request_id"`
	HolderRoleID RoleID             `json:"holder_role_id"`

	EncryptedApproval []byte `json:"encrypted_approval"`

	CreatedUTC time.Time `json:"created_utc"`
}

// LedgerEntry is one append-only audit record. Entries are never deleted or
// mutated; a signed entry is non-repudiable while the signer's private
// signing key remains uncompromised.
type LedgerEntry struct {
	ID LedgerEntryID `json:"id"`

	// Seq is a store-assigned strictly increasing sequence number.
	Seq uint64 `json:"seq"`

	Kind  LedgerKind `json:"kind"`
	Actor RoleID     `json:"actor"`

	// Payload is a JSON description of the recorded action. It never
	// contains key material.
	Payload []byte `json:"payload"`

	// SignerRoleID and Signature are set when a signing context was
	// available; the signature covers the payload.
	SignerRoleID RoleID `json:"signer_role_id,omitempty"`
	Signature    []byte `json:"signature,omitempty"`

	CreatedUTC time.Time `json:"created_utc"`
}
