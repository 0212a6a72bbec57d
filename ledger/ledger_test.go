package ledger_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/ledger"
	"github.com/veilkey/capability-backend/storage/memstore"
)

func TestAppendAssignsSequence(t *testing.T) {
	repo := memstore.New()
	defer repo.Close()
	ctx := context.Background()
	actor := interfaces.NewRoleID()

	var ids []interfaces.LedgerEntryID
	err := repo.Update(ctx, func(tx interfaces.Tx) error {
		for i := 0; i < 3; i++ {
			entry, err := ledger.Append(tx, interfaces.LedgerKindKey, actor, ledger.Event{Op: "role.created"}, nil)
			if err != nil {
				return err
			}
			ids = append(ids, entry.ID)
		}
		return nil
	})
	require.NoError(t, err)

	err = repo.View(ctx, func(tx interfaces.ReadTx) error {
		entries, err := tx.ListLedgerEntries(0)
		require.NoError(t, err)
		require.Len(t, entries, 3)

		for i, entry := range entries {
			assert.Equal(t, uint64(i+1), entry.Seq, "sequence numbers start at 1 and are dense")
			assert.Equal(t, ids[i], entry.ID)
			assert.Equal(t, actor, entry.Actor)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestAppendSignedEntryVerifies(t *testing.T) {
	repo := memstore.New()
	defer repo.Close()
	ctx := context.Background()

	signer, err := cryptoutils.GenerateRoleKeyPair()
	require.NoError(t, err)
	signerRole := interfaces.NewRoleID()

	var entry *interfaces.LedgerEntry
	err = repo.Update(ctx, func(tx interfaces.Tx) error {
		entry, err = ledger.Append(tx, interfaces.LedgerKindAuth, signerRole, ledger.Event{
			Op:     "recovery.activated",
			Entity: "config-1",
		}, &ledger.SigningContext{RoleID: signerRole, SigningKey: signer.Private})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, signerRole, entry.SignerRoleID)
	require.NoError(t, ledger.Verify(entry, signer.Public))

	// A different key must not verify.
	other, err := cryptoutils.GenerateRoleKeyPair()
	require.NoError(t, err)
	assert.ErrorIs(t, ledger.Verify(entry, other.Public), interfaces.ErrAuthentication)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	repo := memstore.New()
	defer repo.Close()

	signer, err := cryptoutils.GenerateRoleKeyPair()
	require.NoError(t, err)

	var entry *interfaces.LedgerEntry
	err = repo.Update(context.Background(), func(tx interfaces.Tx) error {
		entry, err = ledger.Append(tx, interfaces.LedgerKindBusiness, interfaces.NewRoleID(), ledger.Event{
			Op:      "data.updated",
			Details: map[string]string{"size": "42"},
		}, &ledger.SigningContext{RoleID: interfaces.NewRoleID(), SigningKey: signer.Private})
		return err
	})
	require.NoError(t, err)

	entry.Payload = append([]byte(nil), entry.Payload...)
	entry.Payload[0] ^= 0xff
	assert.ErrorIs(t, ledger.Verify(entry, signer.Public), interfaces.ErrAuthentication)
}

func TestVerifyRejectsUnsignedEntry(t *testing.T) {
	repo := memstore.New()
	defer repo.Close()

	signer, err := cryptoutils.GenerateRoleKeyPair()
	require.NoError(t, err)

	var entry *interfaces.LedgerEntry
	err = repo.Update(context.Background(), func(tx interfaces.Tx) error {
		entry, err = ledger.Append(tx, interfaces.LedgerKindKey, interfaces.NewRoleID(), ledger.Event{Op: "role.created"}, nil)
		return err
	})
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.Verify(entry, signer.Public), interfaces.ErrBadRequest)
}

func TestEventPayloadRoundTrip(t *testing.T) {
	repo := memstore.New()
	defer repo.Close()

	want := ledger.Event{
		Op:      "share.accepted",
		Entity:  "role-7",
		Details: map[string]string{"level": "write"},
	}

	var entry *interfaces.LedgerEntry
	err := repo.Update(context.Background(), func(tx interfaces.Tx) error {
		var err error
		entry, err = ledger.Append(tx, interfaces.LedgerKindKey, interfaces.NewRoleID(), want, nil)
		return err
	})
	require.NoError(t, err)

	var got ledger.Event
	require.NoError(t, json.Unmarshal(entry.Payload, &got))
	assert.Equal(t, want, got)
}

func TestFailedTransactionKeepsLedgerClean(t *testing.T) {
	repo := memstore.New()
	defer repo.Close()
	ctx := context.Background()

	err := repo.Update(ctx, func(tx interfaces.Tx) error {
		if _, err := ledger.Append(tx, interfaces.LedgerKindKey, interfaces.NewRoleID(), ledger.Event{Op: "role.created"}, nil); err != nil {
			return err
		}
		return assert.AnError
	})
	require.Error(t, err)

	err = repo.View(ctx, func(tx interfaces.ReadTx) error {
		entries, err := tx.ListLedgerEntries(0)
		require.NoError(t, err)
		assert.Empty(t, entries, "a rolled back operation must leave no provenance record")
		return nil
	})
	require.NoError(t, err)
}
