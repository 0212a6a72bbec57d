// Package badgerstore persists the role, key and ledger graph in BadgerDB.
// Every entity lives JSON-encoded under a typed key prefix; list lookups go
// through small index keys instead of full scans. Badger's transactions give
// the commit semantics the engine relies on: concurrent writers touching the
// same records resolve to one winner, the rest observe a conflict.
package badgerstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/veilkey/capability-backend/interfaces"
)

const (
	prefixRole             = "role/"
	prefixEdge             = "edge/"
	prefixKeyEntry         = "keyentry/"
	prefixDataItem         = "dataitem/"
	prefixGrant            = "grant/"
	prefixPendingShare     = "pendingshare/"
	prefixRecoveryKey      = "recoverykey/"
	prefixRecoveryShare    = "recoveryshare/"
	prefixRecoveryRequest  = "recoveryrequest/"
	prefixRecoveryApproval = "recoveryapproval/"
	prefixLedger           = "ledger/"

	idxEdgeParent    = "idx/edge/parent/"
	idxEdgeChild     = "idx/edge/child/"
	idxKeyEntryRole  = "idx/keyentry/role/"
	idxKeyEntryItem  = "idx/keyentry/item/"
	idxGrantItem     = "idx/grant/item/"
	idxShareTarget   = "idx/share/target/"
	idxRecoveryRole  = "idx/recovery/role/"
	idxRecoveryShare = "idx/recovery/shares/"
	idxApprovalReq   = "idx/approval/request/"

	metaLedgerSeq = "meta/ledgerseq"
)

// Config configures the store.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM. Meant for tests.
	InMemory bool

	Logger *slog.Logger
}

// Store is a Repository backed by BadgerDB.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

// Open opens or creates the store at the configured path.
func Open(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", cfg.Path, err)
	}

	return &Store{db: db, log: log}, nil
}

// View runs fn against a consistent read snapshot.
func (s *Store) View(ctx context.Context, fn func(interfaces.ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapBadgerErr(s.db.View(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	}))
}

// Update runs fn in a read-write transaction. A commit-time conflict with
// another writer surfaces as ErrConflict; the caller decides whether to
// retry.
func (s *Store) Update(ctx context.Context, fn func(interfaces.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapBadgerErr(s.db.Update(func(txn *badger.Txn) error {
		return fn(&tx{txn: txn})
	}))
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func mapBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: concurrent update", interfaces.ErrConflict)
	default:
		return err
	}
}

// tx adapts one badger transaction to the Repository contract.
type tx struct {
	txn *badger.Txn
}

func (t *tx) get(key string, out any) error {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func (t *tx) set(key string, in any) error {
	encoded, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return t.txn.Set([]byte(key), encoded)
}

// index writes a pointer from an index key to a primary key.
func (t *tx) index(idxKey, primary string) error {
	return t.txn.Set([]byte(idxKey), []byte(primary))
}

// scanIndex visits every primary key an index prefix points to.
func (t *tx) scanIndex(prefix string, visit func(primary string) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)

	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			return visit(string(val))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) GetRole(id interfaces.RoleID) (*interfaces.Role, error) {
	var role interfaces.Role
	if err := t.get(prefixRole+id.String(), &role); err != nil {
		return nil, err
	}
	return &role, nil
}

func (t *tx) PutRole(role *interfaces.Role) error {
	return t.set(prefixRole+role.ID.String(), role)
}

func (t *tx) GetRoleEdge(id interfaces.EdgeID) (*interfaces.RoleEdge, error) {
	var edge interfaces.RoleEdge
	if err := t.get(prefixEdge+id.String(), &edge); err != nil {
		return nil, err
	}
	return &edge, nil
}

func (t *tx) PutRoleEdge(edge *interfaces.RoleEdge) error {
	primary := prefixEdge + edge.ID.String()
	if err := t.set(primary, edge); err != nil {
		return err
	}
	if err := t.index(idxEdgeParent+edge.ParentRoleID.String()+"/"+edge.ID.String(), primary); err != nil {
		return err
	}
	return t.index(idxEdgeChild+edge.ChildRoleID.String()+"/"+edge.ID.String(), primary)
}

func (t *tx) listEdges(prefix string) ([]*interfaces.RoleEdge, error) {
	var edges []*interfaces.RoleEdge
	err := t.scanIndex(prefix, func(primary string) error {
		var edge interfaces.RoleEdge
		if err := t.get(primary, &edge); err != nil {
			return err
		}
		edges = append(edges, &edge)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

func (t *tx) ListEdgesByParent(parent interfaces.RoleID) ([]*interfaces.RoleEdge, error) {
	return t.listEdges(idxEdgeParent + parent.String() + "/")
}

func (t *tx) ListEdgesByChild(child interfaces.RoleID) ([]*interfaces.RoleEdge, error) {
	return t.listEdges(idxEdgeChild + child.String() + "/")
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
	if err := t.get(prefixKeyEntry+id.String(), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (t *tx) PutKeyEntry(entry *interfaces.KeyEntry) error {
	primary := prefixKeyEntry + entry.ID.String()
	if err := t.set(primary, entry); err != nil {
		return err
	}
	if err := t.index(idxKeyEntryRole+entry.OwnerRoleID.String()+"/"+entry.ID.String(), primary); err != nil {
		return err
	}
	if entry.KeyType == interfaces.KeyData {
		return t.index(idxKeyEntryItem+entry.DataItemID.String()+"/"+entry.ID.String(), primary)
	}
	return nil
}

func (t *tx) ListKeyEntriesByRole(role interfaces.RoleID) ([]*interfaces.KeyEntry, error) {
	var entries []*interfaces.KeyEntry
	err := t.scanIndex(idxKeyEntryRole+role.String()+"/", func(primary string) error {
		var entry interfaces.KeyEntry
		if err := t.get(primary, &entry); err != nil {
			return err
		}
		entries = append(entries, &entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *tx) FindDataKeyEntry(item interfaces.DataItemID) (*interfaces.KeyEntry, error) {
	var found *interfaces.KeyEntry
	err := t.scanIndex(idxKeyEntryItem+item.String()+"/", func(primary string) error {
		var entry interfaces.KeyEntry
		if err := t.get(primary, &entry); err != nil {
			return err
		}
		if !entry.Revoked() {
			found = &entry
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (t *tx) DeleteKeyEntry(id interfaces.KeyEntryID) error {
	entry, err := t.GetKeyEntry(id)
	if err != nil {
		return err
	}
	if entry.KeyType != interfaces.KeyData {
		return fmt.Errorf("%w: key entry %s is a role capability key", interfaces.ErrBadRequest, id)
	}

	if err := t.txn.Delete([]byte(idxKeyEntryRole + entry.OwnerRoleID.String() + "/" + id.String())); err != nil {
		return err
	}
	if err := t.txn.Delete([]byte(idxKeyEntryItem + entry.DataItemID.String() + "/" + id.String())); err != nil {
		return err
	}
	return t.txn.Delete([]byte(prefixKeyEntry + id.String()))
}

func (t *tx) GetDataItem(id interfaces.DataItemID) (*interfaces.DataItem, error) {
	var item interfaces.DataItem
	if err := t.get(prefixDataItem+id.String(), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *tx) PutDataItem(item *interfaces.DataItem) error {
	return t.set(prefixDataItem+item.ID.String(), item)
}

func (t *tx) DeleteDataItem(id interfaces.DataItemID) error {
	return t.txn.Delete([]byte(prefixDataItem + id.String()))
}

func (t *tx) GetGrant(id interfaces.GrantID) (*interfaces.Grant, error) {
	var grant interfaces.Grant
	if err := t.get(prefixGrant+id.String(), &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

func (t *tx) PutGrant(grant *interfaces.Grant) error {
	primary := prefixGrant + grant.ID.String()
	if err := t.set(primary, grant); err != nil {
		return err
	}
	return t.index(idxGrantItem+grant.DataItemID.String()+"/"+grant.ID.String(), primary)
}

func (t *tx) ListGrantsByItem(item interfaces.DataItemID) ([]*interfaces.Grant, error) {
	var grants []*interfaces.Grant
	err := t.scanIndex(idxGrantItem+item.String()+"/", func(primary string) error {
		var grant interfaces.Grant
		if err := t.get(primary, &grant); err != nil {
			return err
		}
		grants = append(grants, &grant)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

func (t *tx) FindLiveGrant(role interfaces.RoleID, item interfaces.DataItemID) (*interfaces.Grant, error) {
	grants, err := t.ListGrantsByItem(item)
	if err != nil {
		return nil, err
	}
	for _, grant := range grants {
		if grant.RoleID == role && grant.RevokedUTC == nil {
			return grant, nil
		}
	}
	return nil, nil
}

func (t *tx) GetPendingShare(id interfaces.PendingShareID) (*interfaces.PendingShare, error) {
	var share interfaces.PendingShare
	if err := t.get(prefixPendingShare+id.String(), &share); err != nil {
		return nil, err
	}
	return &share, nil
}

func (t *tx) PutPendingShare(share *interfaces.PendingShare) error {
	primary := prefixPendingShare + share.ID.String()
	if err := t.set(primary, share); err != nil {
		return err
	}
	return t.index(idxShareTarget+share.TargetRoleID.String()+"/"+share.ID.String(), primary)
}

func (t *tx) ListPendingSharesByTarget(target interfaces.RoleID) ([]*interfaces.PendingShare, error) {
	var shares []*interfaces.PendingShare
	err := t.scanIndex(idxShareTarget+target.String()+"/", func(primary string) error {
		var share interfaces.PendingShare
		if err := t.get(primary, &share); err != nil {
			return err
		}
		shares = append(shares, &share)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

func (t *tx) GetRecoveryKey(id interfaces.RecoveryKeyID) (*interfaces.RecoveryKey, error) {
	var key interfaces.RecoveryKey
	if err := t.get(prefixRecoveryKey+id.String(), &key); err != nil {
		return nil, err
	}
	return &key, nil
}

func (t *tx) PutRecoveryKey(key *interfaces.RecoveryKey) error {
	primary := prefixRecoveryKey + key.ID.String()
	if err := t.set(primary, key); err != nil {
		return err
	}
	return t.index(idxRecoveryRole+key.RoleID.String()+"/"+key.ID.String(), primary)
}

func (t *tx) FindActiveRecoveryKey(role interfaces.RoleID) (*interfaces.RecoveryKey, error) {
	var found *interfaces.RecoveryKey
	err := t.scanIndex(idxRecoveryRole+role.String()+"/", func(primary string) error {
		var key interfaces.RecoveryKey
		if err := t.get(primary, &key); err != nil {
			return err
		}
		if key.RevokedUTC == nil {
			found = &key
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (t *tx) PutRecoveryShare(share *interfaces.RecoveryShare) error {
	primary := prefixRecoveryShare + share.ID.String()
	if err := t.set(primary, share); err != nil {
		return err
	}
	return t.index(idxRecoveryShare+share.RecoveryKeyID.String()+"/"+share.ID.String(), primary)
}

func (t *tx) ListRecoveryShares(key interfaces.RecoveryKeyID) ([]*interfaces.RecoveryShare, error) {
	var shares []*interfaces.RecoveryShare
	err := t.scanIndex(idxRecoveryShare+key.String()+"/", func(primary string) error {
		var share interfaces.RecoveryShare
		if err := t.get(primary, &share); err != nil {
			return err
		}
		shares = append(shares, &share)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shares, nil
}

func (t *tx) GetRecoveryRequest(id interfaces.RecoveryRequestID) (*interfaces.RecoveryRequest, error) {
	var req interfaces.RecoveryRequest
	if err := t.get(prefixRecoveryRequest+id.String(), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (t *tx) PutRecoveryRequest(req *interfaces.RecoveryRequest) error {
	return t.set(prefixRecoveryRequest+req.ID.String(), req)
}

func (t *tx) PutRecoveryApproval(approval *interfaces.RecoveryApproval) error {
	primary := prefixRecoveryApproval + approval.ID.String()
	if err := t.set(primary, approval); err != nil {
		return err
	}
	return t.index(idxApprovalReq+approval.RequestID.String()+"/"+approval.ID.String(), primary)
}

func (t *tx) ListRecoveryApprovals(req interfaces.RecoveryRequestID) ([]*interfaces.RecoveryApproval, error) {
	var approvals []*interfaces.RecoveryApproval
	err := t.scanIndex(idxApprovalReq+req.String()+"/", func(primary string) error {
		var approval interfaces.RecoveryApproval
		if err := t.get(primary, &approval); err != nil {
			return err
		}
		approvals = append(approvals, &approval)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return approvals, nil
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
	entries, err := t.ListLedgerEntries(0)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.ID == id {
			found = entry
			break
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: ledger entry %s", interfaces.ErrNotFound, id)
	}
	return found, nil
}

func (t *tx) ListLedgerEntries(fromSeq uint64) ([]*interfaces.LedgerEntry, error) {
	prefix := []byte(prefixLedger)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var entries []*interfaces.LedgerEntry
	for it.Seek(ledgerKey(fromSeq)); it.ValidForPrefix(prefix); it.Next() {
		var entry interfaces.LedgerEntry
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
		if err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (t *tx) AppendLedgerEntry(entry *interfaces.LedgerEntry) error {
	// The sequence counter is read and advanced inside the transaction, so
	// two concurrent appends conflict instead of racing for the same slot.
	seq, err := t.nextLedgerSeq()
	if err != nil {
		return err
	}
	entry.Seq = seq

	if err := t.set(string(ledgerKey(seq)), entry); err != nil {
		return err
	}
	return t.setLedgerSeq(seq)
}

func (t *tx) nextLedgerSeq() (uint64, error) {
	item, err := t.txn.Get([]byte(metaLedgerSeq))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}

	var current uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("malformed ledger sequence counter")
		}
		current = binary.BigEndian.Uint64(val)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return current + 1, nil
}

func (t *tx) setLedgerSeq(seq uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, seq)
	return t.txn.Set([]byte(metaLedgerSeq), buf)
}

func ledgerKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixLedger, seq))
}
