package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilkey/capability-backend/interfaces"
)

func TestGetRoleNotFound(t *testing.T) {
	store := New()
	defer store.Close()

	err := store.View(context.Background(), func(tx interfaces.ReadTx) error {
		_, err := tx.GetRole(interfaces.NewRoleID())
		return err
	})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	role := &interfaces.Role{
		ID:                   interfaces.NewRoleID(),
		EncryptionPublicKey:  []byte("enc-pem"),
		SigningPublicKey:     []byte("sig-pem"),
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
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := New()
	defer store.Close()
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
		assert.ErrorIs(t, err, interfaces.ErrNotFound, "staged writes must vanish on rollback")
		return nil
	})
	require.NoError(t, err)
}

func TestWritesInvisibleUntilCommit(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	roleID := interfaces.NewRoleID()
	err := store.Update(ctx, func(tx interfaces.Tx) error {
		if err := tx.PutRole(&interfaces.Role{ID: roleID}); err != nil {
			return err
		}
		// The write is visible inside its own transaction.
		_, err := tx.GetRole(roleID)
		return err
	})
	require.NoError(t, err)
}

func TestFindLiveEdge(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	parent := interfaces.NewRoleID()
	child := interfaces.NewRoleID()
	now := time.Now().UTC()

	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		revoked := &interfaces.RoleEdge{
			ID: interfaces.NewEdgeID(), ParentRoleID: parent, ChildRoleID: child, RevokedUTC: &now,
		}
		if err := tx.PutRoleEdge(revoked); err != nil {
			return err
		}
		return tx.PutRoleEdge(&interfaces.RoleEdge{
			ID: interfaces.NewEdgeID(), ParentRoleID: parent, ChildRoleID: child,
		})
	}))

	err := store.View(ctx, func(tx interfaces.ReadTx) error {
		edge, err := tx.FindLiveEdge(parent, child)
		require.NoError(t, err)
		require.NotNil(t, edge)
		assert.Nil(t, edge.RevokedUTC, "revoked edges must not be returned as live")

		missing, err := tx.FindLiveEdge(child, parent)
		require.NoError(t, err)
		assert.Nil(t, missing, "absence is not an error for Find lookups")

		all, err := tx.ListEdgesByParent(parent)
		require.NoError(t, err)
		assert.Len(t, all, 2, "listing includes revoked edges")
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerSequenceSurvivesTransactions(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	append1 := func(tx interfaces.Tx) error {
		return tx.AppendLedgerEntry(&interfaces.LedgerEntry{
			ID:   interfaces.NewLedgerEntryID(),
			Kind: interfaces.LedgerKindKey,
		})
	}
	require.NoError(t, store.Update(ctx, append1))
	require.NoError(t, store.Update(ctx, append1))

	// A rolled back append must not burn a visible sequence number.
	_ = store.Update(ctx, func(tx interfaces.Tx) error {
		if err := append1(tx); err != nil {
			return err
		}
		return assert.AnError
	})
	require.NoError(t, store.Update(ctx, append1))

	err := store.View(ctx, func(tx interfaces.ReadTx) error {
		entries, err := tx.ListLedgerEntries(0)
		require.NoError(t, err)
		require.Len(t, entries, 3)

		var prev uint64
		for _, entry := range entries {
			assert.Greater(t, entry.Seq, prev)
			prev = entry.Seq
		}

		tail, err := tx.ListLedgerEntries(entries[1].Seq)
		require.NoError(t, err)
		assert.Len(t, tail, 2, "fromSeq is inclusive")
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteKeyEntryRejectsRoleKeys(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	entryID := interfaces.NewKeyEntryID()
	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		return tx.PutKeyEntry(&interfaces.KeyEntry{
			ID:          entryID,
			KeyType:     interfaces.KeyRoleOwner,
			OwnerRoleID: interfaces.NewRoleID(),
		})
	}))

	err := store.Update(ctx, func(tx interfaces.Tx) error {
		return tx.DeleteKeyEntry(entryID)
	})
	assert.ErrorIs(t, err, interfaces.ErrBadRequest, "role capability keys are never deleted")
}

func TestDeleteDataItemAndKey(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	itemID := interfaces.NewDataItemID()
	keyEntryID := interfaces.NewKeyEntryID()
	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		if err := tx.PutDataItem(&interfaces.DataItem{ID: itemID, OwnerRoleID: interfaces.NewRoleID()}); err != nil {
			return err
		}
		return tx.PutKeyEntry(&interfaces.KeyEntry{
			ID:          keyEntryID,
			KeyType:     interfaces.KeyData,
			OwnerRoleID: interfaces.NewRoleID(),
			DataItemID:  itemID,
		})
	}))

	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		if err := tx.DeleteKeyEntry(keyEntryID); err != nil {
			return err
		}
		return tx.DeleteDataItem(itemID)
	}))

	err := store.View(ctx, func(tx interfaces.ReadTx) error {
		_, err := tx.GetDataItem(itemID)
		assert.ErrorIs(t, err, interfaces.ErrNotFound)

		entry, err := tx.FindDataKeyEntry(itemID)
		require.NoError(t, err)
		assert.Nil(t, entry)
		return nil
	})
	require.NoError(t, err)
}

func TestPendingSharesByTarget(t *testing.T) {
	store := New()
	defer store.Close()
	ctx := context.Background()

	target := interfaces.NewRoleID()
	require.NoError(t, store.Update(ctx, func(tx interfaces.Tx) error {
		for i := 0; i < 2; i++ {
			if err := tx.PutPendingShare(&interfaces.PendingShare{
				ID:           interfaces.NewPendingShareID(),
				SourceRoleID: interfaces.NewRoleID(),
				TargetRoleID: target,
				Level:        interfaces.AccessRead,
				Status:       interfaces.SharePending,
			}); err != nil {
				return err
			}
		}
		return tx.PutPendingShare(&interfaces.PendingShare{
			ID:           interfaces.NewPendingShareID(),
			SourceRoleID: interfaces.NewRoleID(),
			TargetRoleID: interfaces.NewRoleID(),
			Level:        interfaces.AccessRead,
			Status:       interfaces.SharePending,
		})
	}))

	err := store.View(ctx, func(tx interfaces.ReadTx) error {
		shares, err := tx.ListPendingSharesByTarget(target)
		require.NoError(t, err)
		assert.Len(t, shares, 2)
		return nil
	})
	require.NoError(t, err)
}
