package interfaces

import "context"

// ReadTx is a consistent read view of the record store.
//
// Get methods return ErrNotFound when the entity does not exist. Find
// methods are lookups: they return (nil, nil) when nothing matches, so the
// caller decides whether absence is an error.
type ReadTx interface {
	GetRole(id RoleID) (*Role, error)

	GetRoleEdge(id EdgeID) (*RoleEdge, error)

	// ListEdgesByParent returns all edges delegating from the parent,
	// including revoked ones.
	ListEdgesByParent(parent RoleID) ([]*RoleEdge, error)

	// ListEdgesByChild returns all edges delegating to the child, including
	// revoked ones.
	ListEdgesByChild(child RoleID) ([]*RoleEdge, error)

	// FindLiveEdge returns the non-revoked edge between the pair, if any.
	FindLiveEdge(parent, child RoleID) (*RoleEdge, error)

	GetKeyEntry(id KeyEntryID) (*KeyEntry, error)

	// ListKeyEntriesByRole returns all key entries owned by the role.
	ListKeyEntriesByRole(role RoleID) ([]*KeyEntry, error)

	// FindDataKeyEntry returns the non-revoked KeyData entry for the item,
	// if any.
	FindDataKeyEntry(item DataItemID) (*KeyEntry, error)

	GetDataItem(id DataItemID) (*DataItem, error)

	GetGrant(id GrantID) (*Grant, error)

	// FindLiveGrant returns the non-revoked grant binding the role to the
	// item, if any.
	FindLiveGrant(role RoleID, item DataItemID) (*Grant, error)

	// ListGrantsByItem returns all grants on the item, including revoked ones.
	ListGrantsByItem(item DataItemID) ([]*Grant, error)

	GetPendingShare(id PendingShareID) (*PendingShare, error)

	// ListPendingSharesByTarget returns all shares addressed to the target
	// role, in any status.
	ListPendingSharesByTarget(target RoleID) ([]*PendingShare, error)

	GetRecoveryKey(id RecoveryKeyID) (*RecoveryKey, error)

	// FindActiveRecoveryKey returns the role's non-revoked recovery
	// configuration, if any.
	FindActiveRecoveryKey(role RoleID) (*RecoveryKey, error)

	// ListRecoveryShares returns all shares of a recovery configuration,
	// including revoked ones.
	ListRecoveryShares(key RecoveryKeyID) ([]*RecoveryShare, error)

	GetRecoveryRequest(id RecoveryRequestID) (*RecoveryRequest, error)

	// ListRecoveryApprovals returns the approvals submitted for a request.
	ListRecoveryApprovals(req RecoveryRequestID) ([]*RecoveryApproval, error)

	// FindRecoveryApproval returns the holder's approval of the request, if any.
	FindRecoveryApproval(req RecoveryRequestID, holder RoleID) (*RecoveryApproval, error)

	GetLedgerEntry(id LedgerEntryID) (*LedgerEntry, error)

	// ListLedgerEntries returns entries with Seq >= fromSeq in sequence order.
	ListLedgerEntries(fromSeq uint64) ([]*LedgerEntry, error)
}

// Tx is a read-write transaction. All writes become visible atomically on
// commit; within one transaction the ledger append happens before the
// dependent entity writes, so no entity can commit without its provenance
// record nor the other way around.
type Tx interface {
	ReadTx

	PutRole(*Role) error
	PutRoleEdge(*RoleEdge) error
	PutKeyEntry(*KeyEntry) error
	PutDataItem(*DataItem) error
	PutGrant(*Grant) error
	PutPendingShare(*PendingShare) error
	PutRecoveryKey(*RecoveryKey) error
	PutRecoveryShare(*RecoveryShare) error
	PutRecoveryRequest(*RecoveryRequest) error
	PutRecoveryApproval(*RecoveryApproval) error

	// AppendLedgerEntry assigns the next sequence number and persists the
	// entry. Existing entries can never be overwritten.
	AppendLedgerEntry(*LedgerEntry) error

	// DeleteKeyEntry removes a data key entry. Used only for data key
	// destruction, which invalidates every grant on the item at once; role
	// capability keys are never deleted.
	DeleteKeyEntry(id KeyEntryID) error

	// DeleteDataItem removes a data item record alongside its data key.
	DeleteDataItem(id DataItemID) error
}

// Repository is the transactional record store for the role, key and ledger
// graph. Concurrent Update transactions touching the same records resolve to
// exactly one winner; the losers observe ErrConflict.
type Repository interface {
	// View runs fn against a consistent read snapshot.
	View(ctx context.Context, fn func(ReadTx) error) error

	// Update runs fn in a read-write transaction, committing on nil return
	// and rolling back every staged write otherwise.
	Update(ctx context.Context, fn func(Tx) error) error

	// Close releases the underlying store.
	Close() error
}
