package keyring_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/keyring"
	"github.com/veilkey/capability-backend/storage/memstore"
)

// graph builds role and edge records directly against the store, so the
// derivation can be exercised on exactly the shapes each test needs.
type graph struct {
	t    *testing.T
	repo *memstore.Store
}

func newGraph(t *testing.T) *graph {
	t.Helper()
	repo := memstore.New()
	t.Cleanup(func() { repo.Close() })
	return &graph{t: t, repo: repo}
}

func mustKey(t *testing.T) cryptoutils.SymmetricKey {
	t.Helper()
	key, err := cryptoutils.NewSymmetricKey()
	require.NoError(t, err)
	return key
}

func freshSet(t *testing.T) *keyring.CapabilitySet {
	t.Helper()
	return &keyring.CapabilitySet{Read: mustKey(t), Write: mustKey(t), Owner: mustKey(t)}
}

// addRoot persists a role whose three capability keys are sealed under the
// given master secret.
func (g *graph) addRoot(master cryptoutils.SymmetricKey, keys *keyring.CapabilitySet) interfaces.RoleID {
	g.t.Helper()
	roleID := interfaces.NewRoleID()

	err := g.repo.Update(context.Background(), func(tx interfaces.Tx) error {
		for keyType, key := range map[interfaces.KeyType]cryptoutils.SymmetricKey{
			interfaces.KeyRoleRead:  keys.Read,
			interfaces.KeyRoleWrite: keys.Write,
			interfaces.KeyRoleOwner: keys.Owner,
		} {
			wrapped, err := cryptoutils.Seal(master, key, interfaces.KeyEntryContext(roleID, keyType))
			if err != nil {
				return err
			}
			if err := tx.PutKeyEntry(&interfaces.KeyEntry{
				ID:          interfaces.NewKeyEntryID(),
				KeyType:     keyType,
				OwnerRoleID: roleID,
				WrappedKey:  wrapped,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(g.t, err)
	return roleID
}

// link persists a delegation edge carrying the child's key copies up to
// level, sealed under the parent's keys.
func (g *graph) link(parent interfaces.RoleID, parentKeys *keyring.CapabilitySet, child interfaces.RoleID, childKeys *keyring.CapabilitySet, level interfaces.AccessLevel) interfaces.EdgeID {
	g.t.Helper()
	edgeID := interfaces.NewEdgeID()

	err := g.repo.Update(context.Background(), func(tx interfaces.Tx) error {
		edge := &interfaces.RoleEdge{ID: edgeID, ParentRoleID: parent, ChildRoleID: child}

		wrapped, err := cryptoutils.Seal(parentKeys.Read, childKeys.Read, interfaces.EdgeKeyContext(child, interfaces.KeyRoleRead))
		if err != nil {
			return err
		}
		edge.WrappedRead = wrapped

		if level.Includes(interfaces.AccessWrite) {
			wrapped, err := cryptoutils.Seal(parentKeys.Write, childKeys.Write, interfaces.EdgeKeyContext(child, interfaces.KeyRoleWrite))
			if err != nil {
				return err
			}
			edge.WrappedWrite = wrapped
		}
		if level.Includes(interfaces.AccessOwner) {
			wrapped, err := cryptoutils.Seal(parentKeys.Owner, childKeys.Owner, interfaces.EdgeKeyContext(child, interfaces.KeyRoleOwner))
			if err != nil {
				return err
			}
			edge.WrappedOwner = wrapped
		}
		return tx.PutRoleEdge(edge)
	})
	require.NoError(g.t, err)
	return edgeID
}

func (g *graph) build(roots []interfaces.RoleID, master cryptoutils.SymmetricKey) (*keyring.KeyRing, error) {
	g.t.Helper()
	var ring *keyring.KeyRing
	err := g.repo.View(context.Background(), func(tx interfaces.ReadTx) error {
		var err error
		ring, err = keyring.Build(tx, roots, master)
		return err
	})
	return ring, err
}

func TestBuildSeedsRoot(t *testing.T) {
	g := newGraph(t)
	master := mustKey(t)
	keys := freshSet(t)
	root := g.addRoot(master, keys)

	ring, err := g.build([]interfaces.RoleID{root}, master)
	require.NoError(t, err)

	assert.True(t, ring.Controls(root))
	assert.True(t, ring.Key(root, interfaces.AccessOwner).Equal(keys.Owner))
	assert.True(t, ring.Key(root, interfaces.AccessRead).Equal(keys.Read))
	assert.Equal(t, []interfaces.RoleID{root}, ring.Roots())
}

func TestBuildWrongMasterFailsFast(t *testing.T) {
	g := newGraph(t)
	root := g.addRoot(mustKey(t), freshSet(t))

	_, err := g.build([]interfaces.RoleID{root}, mustKey(t))
	assert.ErrorIs(t, err, interfaces.ErrPreconditionRequired)
}

func TestBuildRejectsEmptyRoots(t *testing.T) {
	g := newGraph(t)
	_, err := g.build(nil, mustKey(t))
	assert.ErrorIs(t, err, interfaces.ErrPreconditionRequired)
}

func TestBuildRejectsShortMaster(t *testing.T) {
	g := newGraph(t)
	root := g.addRoot(mustKey(t), freshSet(t))

	_, err := g.build([]interfaces.RoleID{root}, cryptoutils.SymmetricKey{0xde, 0xad})
	assert.ErrorIs(t, err, interfaces.ErrPreconditionRequired)
}

func TestExpandMultiHop(t *testing.T) {
	g := newGraph(t)
	master := mustKey(t)

	rootKeys := freshSet(t)
	teamKeys := freshSet(t)
	viewerKeys := freshSet(t)

	root := g.addRoot(master, rootKeys)
	team := interfaces.NewRoleID()
	viewer := interfaces.NewRoleID()

	g.link(root, rootKeys, team, teamKeys, interfaces.AccessOwner)
	g.link(team, teamKeys, viewer, viewerKeys, interfaces.AccessRead)

	ring, err := g.build([]interfaces.RoleID{root}, master)
	require.NoError(t, err)

	assert.True(t, ring.Has(team, interfaces.AccessOwner))
	assert.True(t, ring.Has(viewer, interfaces.AccessRead), "read capability must flow through two hops")
	assert.False(t, ring.Has(viewer, interfaces.AccessWrite))
	assert.True(t, ring.Key(viewer, interfaces.AccessRead).Equal(viewerKeys.Read))
}

func TestExpandLevelAttenuates(t *testing.T) {
	g := newGraph(t)
	master := mustKey(t)

	rootKeys := freshSet(t)
	midKeys := freshSet(t)
	leafKeys := freshSet(t)

	root := g.addRoot(master, rootKeys)
	mid := interfaces.NewRoleID()
	leaf := interfaces.NewRoleID()

	// The middle role is delegated at read level only; the write copy on
	// the downstream edge stays sealed because the write key is missing.
	g.link(root, rootKeys, mid, midKeys, interfaces.AccessRead)
	g.link(mid, midKeys, leaf, leafKeys, interfaces.AccessWrite)

	ring, err := g.build([]interfaces.RoleID{root}, master)
	require.NoError(t, err)

	assert.True(t, ring.Has(leaf, interfaces.AccessRead))
	assert.False(t, ring.Has(leaf, interfaces.AccessWrite),
		"a path holding only the read key cannot yield the child's write key")
}

func TestExpandConvergentPathsAgree(t *testing.T) {
	g := newGraph(t)
	master := mustKey(t)

	rootKeys := freshSet(t)
	leftKeys := freshSet(t)
	rightKeys := freshSet(t)
	sharedKeys := freshSet(t)

	root := g.addRoot(master, rootKeys)
	left := interfaces.NewRoleID()
	right := interfaces.NewRoleID()
	shared := interfaces.NewRoleID()

	g.link(root, rootKeys, left, leftKeys, interfaces.AccessOwner)
	g.link(root, rootKeys, right, rightKeys, interfaces.AccessOwner)
	g.link(left, leftKeys, shared, sharedKeys, interfaces.AccessRead)
	g.link(right, rightKeys, shared, sharedKeys, interfaces.AccessRead)

	ring, err := g.build([]interfaces.RoleID{root}, master)
	require.NoError(t, err)
	assert.True(t, ring.Key(shared, interfaces.AccessRead).Equal(sharedKeys.Read))
}

func TestExpandDivergentCopiesCorrupt(t *testing.T) {
	g := newGraph(t)
	master := mustKey(t)

	rootKeys := freshSet(t)
	root := g.addRoot(master, rootKeys)
	child := interfaces.NewRoleID()

	// Two edges to the same child carrying different read keys: one of
	// them lies, and the derivation must refuse to pick a winner.
	g.link(root, rootKeys, child, freshSet(t), interfaces.AccessRead)
	g.link(root, rootKeys, child, freshSet(t), interfaces.AccessRead)

	_, err := g.build([]interfaces.RoleID{root}, master)
	assert.ErrorIs(t, err, interfaces.ErrCorruptGraph)
}

func TestExpandSkipsRevokedEdges(t *testing.T) {
	g := newGraph(t)
	master := mustKey(t)

	rootKeys := freshSet(t)
	childKeys := freshSet(t)
	root := g.addRoot(master, rootKeys)
	child := interfaces.NewRoleID()
	edgeID := g.link(root, rootKeys, child, childKeys, interfaces.AccessOwner)

	err := g.repo.Update(context.Background(), func(tx interfaces.Tx) error {
		edge, err := tx.GetRoleEdge(edgeID)
		if err != nil {
			return err
		}
		now := edge.CreatedUTC
		edge.RevokedUTC = &now
		return tx.PutRoleEdge(edge)
	})
	require.NoError(t, err)

	ring, err := g.build([]interfaces.RoleID{root}, master)
	require.NoError(t, err)
	assert.False(t, ring.Controls(child), "revoked edge must contribute nothing")
}

func TestMultipleRootsMergeIntoOneRing(t *testing.T) {
	g := newGraph(t)
	master := mustKey(t)

	first := g.addRoot(master, freshSet(t))
	second := g.addRoot(master, freshSet(t))

	ring, err := g.build([]interfaces.RoleID{first, second}, master)
	require.NoError(t, err)

	assert.True(t, ring.Controls(first))
	assert.True(t, ring.Controls(second))
	assert.ElementsMatch(t, []interfaces.RoleID{first, second}, ring.OwnerRoleIDs())
}
