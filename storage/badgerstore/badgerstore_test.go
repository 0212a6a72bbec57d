package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilkey/capability-backend/interfaces"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRoleRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role := &interfaces.Role{
		ID:                   interfaces.NewRoleID(),
		EncryptionPublicKey:  []byte("enc"),
		SigningPublicKey:     []byte("sig"),
		EncryptedPrivateBlob: []byte("blob"),
		CreatedUTC:           time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		return tx.PutRole(role)
	}))

	err := store.View(ctx, func(tx interfaces.ReadTx) error {
		got, err := tx.GetRole(role.ID)
		require.NoError(t, err)
		assert.Equal(t, role, got)

		_, err = tx.GetRole(interfaces.NewRoleID())
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestEdgeIndexes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := interfaces.NewRoleID()
	childA := interfaces.NewRoleID()
	childB := interfaces.NewRoleID()

	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		for _, child := range []interfaces.RoleID{childA, childB} {
			if err := tx.PutRoleEdge(&interfaces.RoleEdge{
				ID: interfaces.NewEdgeID(), ParentRoleID: parent, ChildRoleID: child,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	err := store.View(ctx, func(tx interfaces.ReadTx) error {
		byParent, err := tx.ListEdgesByParent(parent)
		require.NoError(t, err)
		assert.Len(t, byParent, 2)

		byChild, err := tx.ListEdgesByChild(childA)
		require.NoError(t, err)
		require.Len(t, byChild, 1)
		assert.Equal(t, parent, byChild[0].ParentRoleID)

		live, err := tx.FindLiveEdge(parent, childB)
		require.NoError(t, err)
		require.NotNil(t, live)

		none, err := tx.FindLiveEdge(childA, parent)
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerAppendAssignsDenseSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
			return tx.AppendLedgerEntry(&interfaces.LedgerEntry{
				ID:   interfaces.NewLedgerEntryID(),
				Kind: interfaces.LedgerKindKey,
			})
		}))
	}

	err := store.View(ctx, func(tx interfaces.ReadTx) error {
		entries, err := tx.ListLedgerEntries(0)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		for i, entry := range entries {
			assert.Equal(t, uint64(i+1), entry.Seq)
		}

		tail, err := tx.ListLedgerEntries(3)
		require.NoError(t, err)
		assert.Len(t, tail, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestRollbackDiscardsWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	roleID := interfaces.NewRoleID()
	err := store.Update(ctx, func(tx interfaces.Tx) error {
		if err := tx.PutRole(&interfaces.Role{ID: roleID}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	err = store.View(ctx, func(tx interfaces.ReadTx) error {
		_, err := tx.GetRole(roleID)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteKeyEntryGuardsRoleKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	roleKeyID := interfaces.NewKeyEntryID()
	dataKeyID := interfaces.NewKeyEntryID()
	itemID := interfaces.NewDataItemID()

	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		if err := tx.PutKeyEntry(&interfaces.KeyEntry{
			ID: roleKeyID, KeyType: interfaces.KeyRoleRead, OwnerRoleID: interfaces.NewRoleID(),
		}); err != nil {
			return err
		}
		return tx.PutKeyEntry(&interfaces.KeyEntry{
			ID: dataKeyID, KeyType: interfaces.KeyData, OwnerRoleID: interfaces.NewRoleID(), DataItemID: itemID,
		})
	}))

	err := store.Update(ctx, func(tx interfaces.Tx) error {
		return tx.DeleteKeyEntry(roleKeyID)
	})
	assert.ErrorIs(t, err, interfaces.ErrBadRequest)

	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		return tx.DeleteKeyEntry(dataKeyID)
	}))

	err = store.View(ctx, func(tx interfaces.ReadTx) error {
		entry, err := tx.FindDataKeyEntry(itemID)
		require.NoError(t, err)
		assert.Nil(t, entry)
		return nil
	})
	require.NoError(t, err)
}
