package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/keyring"
	"github.com/veilkey/capability-backend/storage/memstore"
)

func newTestEngine(t *testing.T) (*Engine, interfaces.Repository) {
	t.Helper()
	repo := memstore.New()
	t.Cleanup(func() { repo.Close() })
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, log), repo
}

// principal is one test identity: a master secret and the root role it
// controls.
type principal struct {
	master cryptoutils.SymmetricKey
	root   interfaces.RoleID
}

func newPrincipal(t *testing.T, eng *Engine) *principal {
	t.Helper()
	master, err := cryptoutils.NewSymmetricKey()
	require.NoError(t, err)
	root, err := eng.CreateRootRole(context.Background(), master)
	require.NoError(t, err, "root role creation should succeed")
	return &principal{master: master, root: root}
}

func (p *principal) ring(t *testing.T, eng *Engine) *keyring.KeyRing {
	t.Helper()
	ring, err := eng.BuildKeyRing(context.Background(), []interfaces.RoleID{p.root}, p.master)
	require.NoError(t, err, "key ring derivation should succeed")
	return ring
}

func TestCreateRootRole(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)

	ring := alice.ring(t, eng)
	assert.True(t, ring.Has(alice.root, interfaces.AccessOwner), "principal should own its root role")
	assert.True(t, ring.Controls(alice.root))

	err := repo.View(ctx, func(tx interfaces.ReadTx) error {
		role, err := tx.GetRole(alice.root)
		require.NoError(t, err)
		assert.NotEmpty(t, role.EncryptionPublicKey)
		assert.NotEmpty(t, role.SigningPublicKey)
		assert.NotEmpty(t, role.EncryptedPrivateBlob)
		assert.NotEmpty(t, role.ProvenanceID, "role should reference its ledger entry")

		entries, err := tx.ListKeyEntriesByRole(alice.root)
		require.NoError(t, err)
		assert.Len(t, entries, 3, "a role carries read, write and owner key entries")
		return nil
	})
	require.NoError(t, err)
}

func TestCreateRootRoleRejectsBadMaster(t *testing.T) {
	eng, _ := newTestEngine(t)

	_, err := eng.CreateRootRole(context.Background(), cryptoutils.SymmetricKey{0x01})
	assert.ErrorIs(t, err, interfaces.ErrPreconditionRequired)
}

func TestBuildKeyRingWrongMaster(t *testing.T) {
	eng, _ := newTestEngine(t)

	alice := newPrincipal(t, eng)
	wrong, err := cryptoutils.NewSymmetricKey()
	require.NoError(t, err)

	_, err = eng.BuildKeyRing(context.Background(), []interfaces.RoleID{alice.root}, wrong)
	assert.ErrorIs(t, err, interfaces.ErrPreconditionRequired,
		"a master secret that opens nothing must fail fast")
}

func TestCreateRoleHierarchy(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	ring := alice.ring(t, eng)

	team, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, ring)
	require.NoError(t, err)

	// The ring rebuilt from the same root reaches the child through the
	// delegation edge.
	ring = alice.ring(t, eng)
	assert.True(t, ring.Has(team, interfaces.AccessOwner), "owner edge transmits all three keys")
	assert.True(t, ring.Has(team, interfaces.AccessWrite))
	assert.True(t, ring.Has(team, interfaces.AccessRead))

	// A grandchild at read level transmits the read key only.
	viewer, err := eng.CreateRole(ctx, team, interfaces.AccessRead, ring)
	require.NoError(t, err)

	ring = alice.ring(t, eng)
	assert.True(t, ring.Has(viewer, interfaces.AccessRead))
	assert.False(t, ring.Has(viewer, interfaces.AccessWrite), "read edge must not transmit the write key")
	assert.False(t, ring.Has(viewer, interfaces.AccessOwner))
}

func TestCreateRoleRequiresParentKeys(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	// Bob's ring holds no keys for Alice's root.
	_, err := eng.CreateRole(ctx, alice.root, interfaces.AccessRead, bob.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
}

func TestCreateRoleUnknownParent(t *testing.T) {
	eng, _ := newTestEngine(t)

	alice := newPrincipal(t, eng)
	_, err := eng.CreateRole(context.Background(), interfaces.NewRoleID(), interfaces.AccessRead, alice.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestKeyRingDeterministic(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	ring := alice.ring(t, eng)
	team, err := eng.CreateRole(ctx, alice.root, interfaces.AccessWrite, ring)
	require.NoError(t, err)

	first := alice.ring(t, eng)
	second := alice.ring(t, eng)

	require.ElementsMatch(t, first.RoleIDs(), second.RoleIDs())
	for _, level := range []interfaces.AccessLevel{interfaces.AccessRead, interfaces.AccessWrite} {
		assert.True(t, first.Key(team, level).Equal(second.Key(team, level)),
			"two derivations from the same graph must agree on %s", level)
	}
}

func TestShareRoleDirect(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	ring := alice.ring(t, eng)
	projects, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, ring)
	require.NoError(t, err)
	archive, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, ring)
	require.NoError(t, err)

	// Both roles are in the caller's ring, so no handoff is needed.
	ring = alice.ring(t, eng)
	result, err := eng.ShareRole(ctx, projects, archive, interfaces.AccessRead, ring)
	require.NoError(t, err)
	assert.Equal(t, DirectGranted, result.Outcome)
	assert.Empty(t, result.PendingShareID)

	err = repo.View(ctx, func(tx interfaces.ReadTx) error {
		edge, err := tx.FindLiveEdge(archive, projects)
		require.NoError(t, err)
		require.NotNil(t, edge, "direct grant must materialize the edge immediately")
		assert.NotEmpty(t, edge.WrappedRead)
		assert.Empty(t, edge.WrappedWrite, "read share must not carry the write key")
		return nil
	})
	require.NoError(t, err)
}

func TestShareRolePendingAndAccept(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	aliceRing := alice.ring(t, eng)
	docs, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, aliceRing)
	require.NoError(t, err)

	aliceRing = alice.ring(t, eng)
	result, err := eng.ShareRole(ctx, docs, bob.root, interfaces.AccessWrite, aliceRing)
	require.NoError(t, err)
	require.Equal(t, PendingDelivery, result.Outcome, "sharing across principals must go through the pending path")
	require.NotEmpty(t, result.PendingShareID)

	// Bob cannot reach the shared role before acceptance.
	bobRing := bob.ring(t, eng)
	assert.False(t, bobRing.Controls(docs))

	require.NoError(t, eng.AcceptPendingShare(ctx, result.PendingShareID, bobRing))

	bobRing = bob.ring(t, eng)
	assert.True(t, bobRing.Has(docs, interfaces.AccessWrite))
	assert.True(t, bobRing.Has(docs, interfaces.AccessRead))
	assert.False(t, bobRing.Has(docs, interfaces.AccessOwner), "write share must not transmit the owner key")

	// Both sides agree on the shared key material.
	aliceRing = alice.ring(t, eng)
	assert.True(t, aliceRing.Key(docs, interfaces.AccessWrite).Equal(bobRing.Key(docs, interfaces.AccessWrite)))
}

func TestAcceptPendingShareOnlyOnce(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	result, err := eng.ShareRole(ctx, alice.root, bob.root, interfaces.AccessRead, alice.ring(t, eng))
	require.NoError(t, err)
	require.Equal(t, PendingDelivery, result.Outcome)

	require.NoError(t, eng.AcceptPendingShare(ctx, result.PendingShareID, bob.ring(t, eng)))

	err = eng.AcceptPendingShare(ctx, result.PendingShareID, bob.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrConflict, "a share can be accepted exactly once")
}

func TestAcceptPendingShareRequiresTargetOwner(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)
	carol := newPrincipal(t, eng)

	result, err := eng.ShareRole(ctx, alice.root, bob.root, interfaces.AccessRead, alice.ring(t, eng))
	require.NoError(t, err)

	err = eng.AcceptPendingShare(ctx, result.PendingShareID, carol.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
}

func TestShareRoleDuplicate(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	_, err := eng.ShareRole(ctx, alice.root, bob.root, interfaces.AccessRead, alice.ring(t, eng))
	require.NoError(t, err)

	_, err = eng.ShareRole(ctx, alice.root, bob.root, interfaces.AccessRead, alice.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrConflict, "an undecided pending share blocks a second one")
}

func TestShareRoleWithSelf(t *testing.T) {
	eng, _ := newTestEngine(t)

	alice := newPrincipal(t, eng)
	_, err := eng.ShareRole(context.Background(), alice.root, alice.root, interfaces.AccessRead, alice.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrBadRequest)
}

func TestRevokeEdge(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	ring := alice.ring(t, eng)
	team, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, ring)
	require.NoError(t, err)

	var edgeID interfaces.EdgeID
	err = repo.View(ctx, func(tx interfaces.ReadTx) error {
		edge, err := tx.FindLiveEdge(alice.root, team)
		require.NoError(t, err)
		require.NotNil(t, edge)
		edgeID = edge.ID
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, eng.RevokeEdge(ctx, edgeID, alice.ring(t, eng)))

	// A ring derived after revocation no longer reaches the child.
	ring = alice.ring(t, eng)
	assert.False(t, ring.Controls(team), "revoked edge must not contribute keys")

	err = eng.RevokeEdge(ctx, edgeID, alice.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrConflict, "double revocation is a conflict")
}

func TestDataItemLifecycle(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	ring := alice.ring(t, eng)

	content := []byte("quarterly figures, draft 3")
	itemID, err := eng.CreateDataItem(ctx, alice.root, content, ring)
	require.NoError(t, err)

	got, err := eng.OpenDataItem(ctx, itemID, ring)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	updated := []byte("quarterly figures, final")
	require.NoError(t, eng.UpdateDataItem(ctx, itemID, updated, ring))

	got, err = eng.OpenDataItem(ctx, itemID, ring)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestOpenDataItemForbiddenWithoutGrant(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	itemID, err := eng.CreateDataItem(ctx, alice.root, []byte("private"), alice.ring(t, eng))
	require.NoError(t, err)

	_, err = eng.OpenDataItem(ctx, itemID, bob.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
}

func TestGrantDataAcrossPrincipals(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	// Alice shares a role with Bob, then grants the shared role access to
	// an item. Bob reads the item through the shared role.
	aliceRing := alice.ring(t, eng)
	shared, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, aliceRing)
	require.NoError(t, err)

	aliceRing = alice.ring(t, eng)
	share, err := eng.ShareRole(ctx, shared, bob.root, interfaces.AccessWrite, aliceRing)
	require.NoError(t, err)
	require.NoError(t, eng.AcceptPendingShare(ctx, share.PendingShareID, bob.ring(t, eng)))

	content := []byte("shared design notes")
	itemID, err := eng.CreateDataItem(ctx, alice.root, content, aliceRing)
	require.NoError(t, err)

	_, err = eng.GrantData(ctx, itemID, shared, interfaces.AccessWrite, aliceRing)
	require.NoError(t, err)

	bobRing := bob.ring(t, eng)
	got, err := eng.OpenDataItem(ctx, itemID, bobRing)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	// Bob's write grant lets him update; the re-signed content still opens
	// for Alice.
	require.NoError(t, eng.UpdateDataItem(ctx, itemID, []byte("bob's revision"), bobRing))
	got, err = eng.OpenDataItem(ctx, itemID, alice.ring(t, eng))
	require.NoError(t, err)
	assert.Equal(t, []byte("bob's revision"), got)
}

func TestGrantDataDuplicate(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	ring := alice.ring(t, eng)
	reader, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, ring)
	require.NoError(t, err)

	ring = alice.ring(t, eng)
	itemID, err := eng.CreateDataItem(ctx, alice.root, []byte("x"), ring)
	require.NoError(t, err)

	_, err = eng.GrantData(ctx, itemID, reader, interfaces.AccessRead, ring)
	require.NoError(t, err)
	_, err = eng.GrantData(ctx, itemID, reader, interfaces.AccessRead, ring)
	assert.ErrorIs(t, err, interfaces.ErrConflict)
}

func TestRevokeGrant(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	aliceRing := alice.ring(t, eng)
	shared, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, aliceRing)
	require.NoError(t, err)

	aliceRing = alice.ring(t, eng)
	share, err := eng.ShareRole(ctx, shared, bob.root, interfaces.AccessRead, aliceRing)
	require.NoError(t, err)
	require.NoError(t, eng.AcceptPendingShare(ctx, share.PendingShareID, bob.ring(t, eng)))

	itemID, err := eng.CreateDataItem(ctx, alice.root, []byte("payload"), aliceRing)
	require.NoError(t, err)
	grantID, err := eng.GrantData(ctx, itemID, shared, interfaces.AccessRead, aliceRing)
	require.NoError(t, err)

	bobRing := bob.ring(t, eng)
	_, err = eng.OpenDataItem(ctx, itemID, bobRing)
	require.NoError(t, err)

	require.NoError(t, eng.RevokeGrant(ctx, grantID, aliceRing))

	_, err = eng.OpenDataItem(ctx, itemID, bobRing)
	assert.ErrorIs(t, err, interfaces.ErrForbidden, "revoked grant must not open the item")

	err = eng.RevokeGrant(ctx, grantID, aliceRing)
	assert.ErrorIs(t, err, interfaces.ErrConflict)
}

func TestDestroyDataItem(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	ring := alice.ring(t, eng)

	itemID, err := eng.CreateDataItem(ctx, alice.root, []byte("ephemeral"), ring)
	require.NoError(t, err)

	require.NoError(t, eng.DestroyDataItem(ctx, itemID, ring))

	_, err = eng.OpenDataItem(ctx, itemID, ring)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	err = repo.View(ctx, func(tx interfaces.ReadTx) error {
		entry, err := tx.FindDataKeyEntry(itemID)
		require.NoError(t, err)
		assert.Nil(t, entry, "destruction must delete the data key entry")

		grants, err := tx.ListGrantsByItem(itemID)
		require.NoError(t, err)
		for _, grant := range grants {
			assert.NotNil(t, grant.RevokedUTC, "destruction must revoke every grant")
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRecoveryEndToEnd(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)
	carol := newPrincipal(t, eng)

	aliceRing := alice.ring(t, eng)
	activation, err := eng.ActivateRecovery(ctx, alice.root, []interfaces.RoleID{bob.root, carol.root}, aliceRing)
	require.NoError(t, err)
	require.Len(t, activation.Shares, 2)

	request, err := eng.RequestRecovery(ctx, alice.root, aliceRing)
	require.NoError(t, err)

	// Completion before unanimity is premature.
	_, err = eng.CompleteRecovery(ctx, request.RequestID, request.SessionPrivateKey, aliceRing)
	assert.ErrorIs(t, err, interfaces.ErrBadRequest)

	codes := map[interfaces.RoleID]string{}
	for _, share := range activation.Shares {
		codes[share.HolderRoleID] = share.ShareCode
	}

	require.NoError(t, eng.ApproveRecovery(ctx, request.RequestID, bob.root, codes[bob.root], bob.ring(t, eng)))

	// One approval of two is not enough.
	_, err = eng.CompleteRecovery(ctx, request.RequestID, request.SessionPrivateKey, aliceRing)
	assert.ErrorIs(t, err, interfaces.ErrBadRequest, "recovery is unanimous, not threshold")

	require.NoError(t, eng.ApproveRecovery(ctx, request.RequestID, carol.root, codes[carol.root], carol.ring(t, eng)))

	result, err := eng.CompleteRecovery(ctx, request.RequestID, request.SessionPrivateKey, aliceRing)
	require.NoError(t, err)

	expected := aliceRing.Key(alice.root, interfaces.AccessOwner)
	assert.True(t, result.OwnerKey.Equal(expected), "recovery must reproduce the owner key exactly")

	// The configuration is single-use.
	_, err = eng.RequestRecovery(ctx, alice.root, aliceRing)
	assert.ErrorIs(t, err, interfaces.ErrPreconditionRequired, "completed configuration must not serve again")
}

func TestApproveRecoveryWrongShareCode(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	aliceRing := alice.ring(t, eng)
	_, err := eng.ActivateRecovery(ctx, alice.root, []interfaces.RoleID{bob.root}, aliceRing)
	require.NoError(t, err)
	request, err := eng.RequestRecovery(ctx, alice.root, aliceRing)
	require.NoError(t, err)

	err = eng.ApproveRecovery(ctx, request.RequestID, bob.root, "not the code", bob.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrAuthentication)
}

func TestApproveRecoveryDuplicate(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)
	carol := newPrincipal(t, eng)

	aliceRing := alice.ring(t, eng)
	activation, err := eng.ActivateRecovery(ctx, alice.root, []interfaces.RoleID{bob.root, carol.root}, aliceRing)
	require.NoError(t, err)
	request, err := eng.RequestRecovery(ctx, alice.root, aliceRing)
	require.NoError(t, err)

	code := activation.Shares[0].ShareCode
	holder := activation.Shares[0].HolderRoleID
	holderRing := bob.ring(t, eng)
	if holder == carol.root {
		holderRing = carol.ring(t, eng)
	}

	require.NoError(t, eng.ApproveRecovery(ctx, request.RequestID, holder, code, holderRing))
	err = eng.ApproveRecovery(ctx, request.RequestID, holder, code, holderRing)
	assert.ErrorIs(t, err, interfaces.ErrConflict, "each holder approves at most once")
}

func TestApproveRecoveryByOutsider(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)
	mallory := newPrincipal(t, eng)

	aliceRing := alice.ring(t, eng)
	activation, err := eng.ActivateRecovery(ctx, alice.root, []interfaces.RoleID{bob.root}, aliceRing)
	require.NoError(t, err)
	request, err := eng.RequestRecovery(ctx, alice.root, aliceRing)
	require.NoError(t, err)

	// Mallory owns no share even with a stolen code.
	err = eng.ApproveRecovery(ctx, request.RequestID, mallory.root, activation.Shares[0].ShareCode, mallory.ring(t, eng))
	assert.ErrorIs(t, err, interfaces.ErrForbidden)
}

func TestCancelRecovery(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)

	aliceRing := alice.ring(t, eng)
	_, err := eng.ActivateRecovery(ctx, alice.root, []interfaces.RoleID{bob.root}, aliceRing)
	require.NoError(t, err)
	request, err := eng.RequestRecovery(ctx, alice.root, aliceRing)
	require.NoError(t, err)

	require.NoError(t, eng.CancelRecovery(ctx, request.RequestID, aliceRing))

	err = eng.CancelRecovery(ctx, request.RequestID, aliceRing)
	assert.ErrorIs(t, err, interfaces.ErrBadRequest, "terminal states reject further transitions")

	_, err = eng.CompleteRecovery(ctx, request.RequestID, nil, aliceRing)
	assert.ErrorIs(t, err, interfaces.ErrBadRequest, "canceled request is terminal")
}

func TestReactivateRecoveryRevokesPrevious(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	bob := newPrincipal(t, eng)
	carol := newPrincipal(t, eng)

	aliceRing := alice.ring(t, eng)
	first, err := eng.ActivateRecovery(ctx, alice.root, []interfaces.RoleID{bob.root}, aliceRing)
	require.NoError(t, err)
	second, err := eng.ActivateRecovery(ctx, alice.root, []interfaces.RoleID{carol.root}, aliceRing)
	require.NoError(t, err)

	err = repo.View(ctx, func(tx interfaces.ReadTx) error {
		active, err := tx.FindActiveRecoveryKey(alice.root)
		require.NoError(t, err)
		require.NotNil(t, active)
		assert.Equal(t, second.RecoveryKeyID, active.ID, "only the newest configuration stays active")

		old, err := tx.GetRecoveryKey(first.RecoveryKeyID)
		require.NoError(t, err)
		assert.NotNil(t, old.RevokedUTC)
		return nil
	})
	require.NoError(t, err)
}

func TestLedgerRecordsProvenance(t *testing.T) {
	eng, repo := newTestEngine(t)
	ctx := context.Background()

	alice := newPrincipal(t, eng)
	ring := alice.ring(t, eng)
	_, err := eng.CreateRole(ctx, alice.root, interfaces.AccessOwner, ring)
	require.NoError(t, err)
	_, err = eng.CreateDataItem(ctx, alice.root, []byte("x"), ring)
	require.NoError(t, err)

	err = repo.View(ctx, func(tx interfaces.ReadTx) error {
		entries, err := tx.ListLedgerEntries(0)
		require.NoError(t, err)
		require.NotEmpty(t, entries)

		var prev uint64
		for _, entry := range entries {
			assert.Greater(t, entry.Seq, prev, "sequence numbers are strictly increasing")
			prev = entry.Seq
		}
		return nil
	})
	require.NoError(t, err)
}
