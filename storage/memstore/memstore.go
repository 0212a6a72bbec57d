// Package memstore provides an in-memory implementation of the record store,
// used by tests and the development server. It offers the same transactional
// contract as the badger-backed store: writes are staged per transaction and
// become visible atomically on commit.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/veilkey/capability-backend/interfaces"
)

const (
	bucketRoles             = "role"
	bucketEdges             = "edge"
	bucketKeyEntries        = "keyentry"
	bucketDataItems         = "dataitem"
	bucketGrants            = "grant"
	bucketPendingShares     = "pendingshare"
	bucketRecoveryKeys      = "recoverykey"
	bucketRecoveryShares    = "recoveryshare"
	bucketRecoveryRequests  = "recoveryrequest"
	bucketRecoveryApprovals = "recoveryapproval"
	bucketLedger            = "ledger"
)

// Store is an in-memory record store. Entities are kept JSON-encoded so
// reads always hand out independent copies.
type Store struct {
	mu        sync.RWMutex
	buckets   map[string]map[string][]byte
	ledgerSeq uint64
}

// New creates an empty in-memory store.
func New() *Store {
	s := &Store{buckets: make(map[string]map[string][]byte)}
	for _, b := range []string{
		bucketRoles, bucketEdges, bucketKeyEntries, bucketDataItems,
		bucketGrants, bucketPendingShares, bucketRecoveryKeys,
		bucketRecoveryShares, bucketRecoveryRequests,
		bucketRecoveryApprovals, bucketLedger,
	} {
		s.buckets[b] = make(map[string][]byte)
	}
	return s
}

// View runs fn against a consistent read snapshot.
func (s *Store) View(ctx context.Context, fn func(interfaces.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&tx{store: s})
}

// Update runs fn in a read-write transaction. Staged writes are applied only
// when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(interfaces.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		store:     s,
		staged:    make(map[string]map[string][]byte),
		deleted:   make(map[string]map[string]bool),
		ledgerSeq: s.ledgerSeq,
	}

	if err := fn(t); err != nil {
		return err
	}

	for bucket, entries := range t.staged {
		for key, value := range entries {
			s.buckets[bucket][key] = value
		}
	}
	for bucket, keys := range t.deleted {
		for key := range keys {
			delete(s.buckets[bucket], key)
		}
	}
	s.ledgerSeq = t.ledgerSeq

	return nil
}

// Close releases nothing; it exists to satisfy the Repository contract.
func (s *Store) Close() error {
	return nil
}

// tx implements both the read and the read-write transaction over the
// store's buckets plus a staged overlay.
type tx struct {
	store     *Store
	staged    map[string]map[string][]byte
	deleted   map[string]map[string]bool
	ledgerSeq uint64
}

func (t *tx) get(bucket, key string, out any) error {
	if t.deleted[bucket][key] {
		return interfaces.ErrNotFound
	}
	if staged, ok := t.staged[bucket][key]; ok {
		return json.Unmarshal(staged, out)
	}
	stored, ok := t.store.buckets[bucket][key]
	if !ok {
		return interfaces.ErrNotFound
	}
	return json.Unmarshal(stored, out)
}

func (t *tx) put(bucket, key string, value any) error {
	if t.staged == nil {
		return fmt.Errorf("write inside a read-only transaction")
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", bucket, err)
	}

	if t.staged[bucket] == nil {
		t.staged[bucket] = make(map[string][]byte)
	}
	t.staged[bucket][key] = encoded
	if t.deleted[bucket] != nil {
		delete(t.deleted[bucket], key)
	}
	return nil
}

func (t *tx) delete(bucket, key string) error {
	if t.staged == nil {
		return fmt.Errorf("write inside a read-only transaction")
	}

	if t.deleted[bucket] == nil {
		t.deleted[bucket] = make(map[string]bool)
	}
	t.deleted[bucket][key] = true
	if t.staged[bucket] != nil {
		delete(t.staged[bucket], key)
	}
	return nil
}

// scan visits every record of a bucket, staged overlay included, in key
// order so iteration is deterministic.
func (t *tx) scan(bucket string, visit func(raw []byte) error) error {
	keys := make(map[string]bool)
	for key := range t.store.buckets[bucket] {
		keys[key] = true
	}
	for key := range t.staged[bucket] {
		keys[key] = true
	}

	ordered := make([]string, 0, len(keys))
	for key := range keys {
		if t.deleted[bucket][key] {
			continue
		}
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	for _, key := range ordered {
		raw, ok := t.staged[bucket][key]
		if !ok {
			raw = t.store.buckets[bucket][key]
		}
		if err := visit(raw); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) GetRole(id interfaces.RoleID) (*interfaces.Role, error) {
	var role interfaces.Role
	if err := t.get(bucketRoles, id.String(), &role); err != nil {
		return nil, err
	}
	return &role, nil
}

func (t *tx) GetRoleEdge(id interfaces.EdgeID) (*interfaces.RoleEdge, error) {
	var edge interfaces.RoleEdge
	if err := t.get(bucketEdges, id.String(), &edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

func (t *tx) ListEdgesByParent(parent interfaces.RoleID) ([]*interfaces.RoleEdge, error) {
	var edges []*interfaces.RoleEdge
	err := t.scan(bucketEdges, func(raw []byte) error {
		var edge interfaces.RoleEdge
		if err := json.Unmarshal(raw, &edge); err != nil {
			return err
		}
		if edge.ParentRoleID == parent {
			edges = append(edges, &edge)
		}
		return nil
	})
	return edges, err
}

func (t *tx) ListEdgesByChild(child interfaces.RoleID) ([]*interfaces.RoleEdge, error) {
	var edges []*interfaces.RoleEdge
	err := t.scan(bucketEdges, func(raw []byte) error {
		var edge interfaces.RoleEdge
		if err := json.Unmarshal(raw, &edge); err != nil {
			return err
		}
		if edge.ChildRoleID == child {
			edges = append(edges, &edge)
		}
		return nil
	})
	return edges, err
}

func (t *tx) FindLiveEdge(parent, child interfaces.RoleID) (*interfaces.RoleEdge, error) {
	edges, err := t.ListEdgesByParent(parent)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if edge.ChildRoleID == child && !edge.Revoked() {
			return edge, nil
		}
	}
	return nil, nil
}

func (t *tx) GetKeyEntry(id interfaces.KeyEntryID) (*interfaces.KeyEntry, error) {
	var entry interfaces.KeyEntry
	if err := t.get(bucketKeyEntries, id.String(), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (t *tx) ListKeyEntriesByRole(role interfaces.RoleID) ([]*interfaces.KeyEntry, error) {
	var entries []*interfaces.KeyEntry
	err := t.scan(bucketKeyEntries, func(raw []byte) error {
		var entry interfaces.KeyEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		if entry.OwnerRoleID == role {
			entries = append(entries, &entry)
		}
		return nil
	})
	return entries, err
}

func (t *tx) FindDataKeyEntry(item interfaces.DataItemID) (*interfaces.KeyEntry, error) {
	var found *interfaces.KeyEntry
	err := t.scan(bucketKeyEntries, func(raw []byte) error {
		var entry interfaces.KeyEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		if entry.KeyType == interfaces.KeyData && entry.DataItemID == item && !entry.Revoked() {
			found = &entry
		}
		return nil
	})
	return found, err
}

func (t *tx) GetDataItem(id interfaces.DataItemID) (*interfaces.DataItem, error) {
	var item interfaces.DataItem
	if err := t.get(bucketDataItems, id.String(), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *tx) GetGrant(id interfaces.GrantID) (*interfaces.Grant, error) {
	var grant interfaces.Grant
	if err := t.get(bucketGrants, id.String(), &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

func (t *tx) FindLiveGrant(role interfaces.RoleID, item interfaces.DataItemID) (*interfaces.Grant, error) {
	var found *interfaces.Grant
	err := t.scan(bucketGrants, func(raw []byte) error {
		var grant interfaces.Grant
		if err := json.Unmarshal(raw, &grant); err != nil {
			return err
		}
		if grant.RoleID == role && grant.DataItemID == item && !grant.Revoked() {
			found = &grant
		}
		return nil
	})
	return found, err
}

func (t *tx) ListGrantsByItem(item interfaces.DataItemID) ([]*interfaces.Grant, error) {
	var grants []*interfaces.Grant
	err := t.scan(bucketGrants, func(raw []byte) error {
		var grant interfaces.Grant
		if err := json.Unmarshal(raw, &grant); err != nil {
			return err
		}
		if grant.DataItemID == item {
			grants = append(grants, &grant)
		}
		return nil
	})
	return grants, err
}

func (t *tx) GetPendingShare(id interfaces.PendingShareID) (*interfaces.PendingShare, error) {
	var share interfaces.PendingShare
	if err := t.get(bucketPendingShares, id.String(), &share); err != nil {
		return nil, err
	}
	return &share, nil
}

func (t *tx) ListPendingSharesByTarget(target interfaces.RoleID) ([]*interfaces.PendingShare, error) {
	var shares []*interfaces.PendingShare
	err := t.scan(bucketPendingShares, func(raw []byte) error {
		var share interfaces.PendingShare
		if err := json.Unmarshal(raw, &share); err != nil {
			return err
		}
		if share.TargetRoleID == target {
			shares = append(shares, &share)
		}
		return nil
	})
	return shares, err
}

func (t *tx) GetRecoveryKey(id interfaces.RecoveryKeyID) (*interfaces.RecoveryKey, error) {
	var key interfaces.RecoveryKey
	if err := t.get(bucketRecoveryKeys, id.String(), &key); err != nil {
		return nil, err
	}
	return &key, nil
}

func (t *tx) FindActiveRecoveryKey(role interfaces.RoleID) (*interfaces.RecoveryKey, error) {
	var found *interfaces.RecoveryKey
	err := t.scan(bucketRecoveryKeys, func(raw []byte) error {
		var key interfaces.RecoveryKey
		if err := json.Unmarshal(raw, &key); err != nil {
			return err
		}
		if key.RoleID == role && !key.Revoked() {
			found = &key
		}
		return nil
	})
	return found, err
}

func (t *tx) ListRecoveryShares(key interfaces.RecoveryKeyID) ([]*interfaces.RecoveryShare, error) {
	var shares []*interfaces.RecoveryShare
	err := t.scan(bucketRecoveryShares, func(raw []byte) error {
		var share interfaces.RecoveryShare
		if err := json.Unmarshal(raw, &share); err != nil {
			return err
		}
		if share.RecoveryKeyID == key {
			shares = append(shares, &share)
		}
		return nil
	})
	return shares, err
}

func (t *tx) GetRecoveryRequest(id interfaces.RecoveryRequestID) (*interfaces.RecoveryRequest, error) {
	var req interfaces.RecoveryRequest
	if err := t.get(bucketRecoveryRequests, id.String(), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (t *tx) ListRecoveryApprovals(req interfaces.RecoveryRequestID) ([]*interfaces.RecoveryApproval, error) {
	var approvals []*interfaces.RecoveryApproval
	err := t.scan(bucketRecoveryApprovals, func(raw []byte) error {
		var approval interfaces.RecoveryApproval
		if err := json.Unmarshal(raw, &approval); err != nil {
			return err
		}
		if approval.RequestID == req {
			approvals = append(approvals, &approval)
		}
		return nil
	})
	return approvals, err
}

func (t *tx) FindRecoveryApproval(req interfaces.RecoveryRequestID, holder interfaces.RoleID) (*interfaces.RecoveryApproval, error) {
	approvals, err := t.ListRecoveryApprovals(req)
	if err != nil {
		return nil, err
	}
	for _, approval := range approvals {
		if approval.HolderRoleID == holder {
			return approval, nil
		}
	}
	return nil, nil
}

func (t *tx) GetLedgerEntry(id interfaces.LedgerEntryID) (*interfaces.LedgerEntry, error) {
	var found *interfaces.LedgerEntry
	err := t.scan(bucketLedger, func(raw []byte) error {
		var entry interfaces.LedgerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		if entry.ID == id {
			found = &entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, interfaces.ErrNotFound
	}
	return found, nil
}

func (t *tx) ListLedgerEntries(fromSeq uint64) ([]*interfaces.LedgerEntry, error) {
	var entries []*interfaces.LedgerEntry
	err := t.scan(bucketLedger, func(raw []byte) error {
		var entry interfaces.LedgerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		if entry.Seq >= fromSeq {
			entries = append(entries, &entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	return entries, nil
}

func (t *tx) PutRole(role *interfaces.Role) error {
	return t.put(bucketRoles, role.ID.String(), role)
}

func (t *tx) PutRoleEdge(edge *interfaces.RoleEdge) error {
	return t.put(bucketEdges, edge.ID.String(), edge)
}

func (t *tx) PutKeyEntry(entry *interfaces.KeyEntry) error {
	return t.put(bucketKeyEntries, entry.ID.String(), entry)
}

func (t *tx) PutDataItem(item *interfaces.DataItem) error {
	return t.put(bucketDataItems, item.ID.String(), item)
}

func (t *tx) PutGrant(grant *interfaces.Grant) error {
	return t.put(bucketGrants, grant.ID.String(), grant)
}

func (t *tx) PutPendingShare(share *interfaces.PendingShare) error {
	return t.put(bucketPendingShares, share.ID.String(), share)
}

func (t *tx) PutRecoveryKey(key *interfaces.RecoveryKey) error {
	return t.put(bucketRecoveryKeys, key.ID.String(), key)
}

func (t *tx) PutRecoveryShare(share *interfaces.RecoveryShare) error {
	return t.put(bucketRecoveryShares, share.ID.String(), share)
}

func (t *tx) PutRecoveryRequest(req *interfaces.RecoveryRequest) error {
	return t.put(bucketRecoveryRequests, req.ID.String(), req)
}

func (t *tx) PutRecoveryApproval(approval *interfaces.RecoveryApproval) error {
	return t.put(bucketRecoveryApprovals, approval.ID.String(), approval)
}

func (t *tx) AppendLedgerEntry(entry *interfaces.LedgerEntry) error {
	t.ledgerSeq++
	entry.Seq = t.ledgerSeq
	return t.put(bucketLedger, ledgerKey(entry.Seq), entry)
}

func (t *tx) DeleteKeyEntry(id interfaces.KeyEntryID) error {
	entry, err := t.GetKeyEntry(id)
	if err != nil {
		return err
	}
	if entry.KeyType != interfaces.KeyData {
		return fmt.Errorf("%w: only data keys may be deleted", interfaces.ErrBadRequest)
	}
	return t.delete(bucketKeyEntries, id.String())
}

func (t *tx) DeleteDataItem(id interfaces.DataItemID) error {
	if _, err := t.GetDataItem(id); err != nil {
		return err
	}
	return t.delete(bucketDataItems, id.String())
}

func ledgerKey(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}
