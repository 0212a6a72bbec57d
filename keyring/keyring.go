// Package keyring reconstructs, for one principal and one session, the
// closure of capability keys reachable from the roles the principal controls
// directly. Building a key ring is a pure read-side operation: it mutates
// nothing, is idempotent, and the resulting plaintext keys live no longer
// than the request or session that asked for them.
package keyring

import (
	"fmt"
	"sort"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
)

// CapabilitySet holds the plaintext capability keys derived for one role.
// Absent levels are nil. Within a consistent graph, owner implies write
// implies read.
type CapabilitySet struct {
	Read  cryptoutils.SymmetricKey
	Write cryptoutils.SymmetricKey
	Owner cryptoutils.SymmetricKey
}

// Key returns the key of the given level, or nil.
func (c *CapabilitySet) Key(level interfaces.AccessLevel) cryptoutils.SymmetricKey {
	switch level {
	case interfaces.AccessRead:
		return c.Read
	case interfaces.AccessWrite:
		return c.Write
	case interfaces.AccessOwner:
		return c.Owner
	default:
		return nil
	}
}

// Level returns the highest level present in the set.
func (c *CapabilitySet) Level() interfaces.AccessLevel {
	switch {
	case c.Owner != nil:
		return interfaces.AccessOwner
	case c.Write != nil:
		return interfaces.AccessWrite
	case c.Read != nil:
		return interfaces.AccessRead
	default:
		return 0
	}
}

// KeyRing is the transient closure of capability keys one principal can
// derive in the current session, plus the master secret the closure was
// seeded from. It must never be cached beyond the request or session and
// never logged.
type KeyRing struct {
	master cryptoutils.SymmetricKey
	roots  []interfaces.RoleID
	roles  map[interfaces.RoleID]*CapabilitySet
}

// Build derives the key ring for a principal. roots are the role ids the
// principal controls directly; master is the session master secret that
// unseals the roots' persisted key entries.
//
// The derivation is a breadth-first fixed-point iteration over delegation
// edges: for every edge whose parent-side key is known, the edge's wrapped
// child-key copies are decrypted and merged. A role reachable over multiple
// paths must yield identical key copies on every path; divergent copies mean
// the graph is corrupt and fail the whole derivation.
func Build(tx interfaces.ReadTx, roots []interfaces.RoleID, master cryptoutils.SymmetricKey) (*KeyRing, error) {
	if err := master.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrPreconditionRequired, err)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("%w: no root roles", interfaces.ErrPreconditionRequired)
	}

	ring := &KeyRing{
		master: master,
		roots:  append([]interfaces.RoleID(nil), roots...),
		roles:  make(map[interfaces.RoleID]*CapabilitySet),
	}

	if err := ring.seed(tx); err != nil {
		return nil, err
	}
	if err := ring.expand(tx); err != nil {
		return nil, err
	}

	return ring, nil
}

// seed unseals the principal's own key entries with the master secret. A
// root whose entries cannot be unsealed fails the whole build: the caller
// must re-establish its master secret rather than proceed degraded.
func (r *KeyRing) seed(tx interfaces.ReadTx) error {
	for _, root := range r.roots {
		entries, err := tx.ListKeyEntriesByRole(root)
		if err != nil {
			return err
		}

		seeded := false
		for _, entry := range entries {
			if entry.Revoked() || entry.KeyType == interfaces.KeyData {
				continue
			}

			key, err := cryptoutils.Open(r.master, entry.WrappedKey, interfaces.KeyEntryContext(entry.OwnerRoleID, entry.KeyType))
			if err != nil {
				return fmt.Errorf("%w: cannot unseal root %s", interfaces.ErrPreconditionRequired, root)
			}

			if err := r.merge(root, keyTypeLevel(entry.KeyType), key); err != nil {
				return err
			}
			seeded = true
		}

		if !seeded {
			return fmt.Errorf("%w: no key entries for root %s", interfaces.ErrPreconditionRequired, root)
		}
	}

	return nil
}

// expand walks delegation edges to a fixed point. The graph is not
// guaranteed a tree; a role may have many parents.
func (r *KeyRing) expand(tx interfaces.ReadTx) error {
	visited := make(map[interfaces.EdgeID]bool)

	for changed := true; changed; {
		changed = false

		for _, parent := range r.RoleIDs() {
			parentSet := r.roles[parent]

			edges, err := tx.ListEdgesByParent(parent)
			if err != nil {
				return err
			}

			for _, edge := range edges {
				if edge.Revoked() || visited[edge.ID] {
					continue
				}

				derived, complete, err := deriveEdgeKeys(parentSet, edge)
				if err != nil {
					return err
				}
				if derived == nil {
					continue
				}

				grew, err := r.mergeSet(edge.ChildRoleID, derived)
				if err != nil {
					return err
				}
				if grew {
					changed = true
				}
				// Only retire the edge once every wrapped copy it carries
				// has been opened; a later iteration may hold more parent
				// keys.
				if complete {
					visited[edge.ID] = true
				}
			}
		}
	}

	return nil
}

// deriveEdgeKeys opens the wrapped child-key copies an edge carries, using
// whatever parent-side keys are already known. It returns nil when no copy
// could be opened yet, and reports whether the edge was fully consumed.
func deriveEdgeKeys(parent *CapabilitySet, edge *interfaces.RoleEdge) (*CapabilitySet, bool, error) {
	derived := &CapabilitySet{}
	opened := false
	complete := true

	if edge.WrappedRead != nil {
		if parent.Read == nil {
			complete = false
		} else {
			key, err := cryptoutils.Open(parent.Read, edge.WrappedRead, interfaces.EdgeKeyContext(edge.ChildRoleID, interfaces.KeyRoleRead))
			if err != nil {
				return nil, false, fmt.Errorf("%w: edge %s read copy", interfaces.ErrCorruptGraph, edge.ID)
			}
			derived.Read = key
			opened = true
		}
	}

	if edge.WrappedWrite != nil {
		if parent.Write == nil {
			complete = false
		} else {
			key, err := cryptoutils.Open(parent.Write, edge.WrappedWrite, interfaces.EdgeKeyContext(edge.ChildRoleID, interfaces.KeyRoleWrite))
			if err != nil {
				return nil, false, fmt.Errorf("%w: edge %s write copy", interfaces.ErrCorruptGraph, edge.ID)
			}
			derived.Write = key
			opened = true
		}
	}

	if edge.WrappedOwner != nil {
		if parent.Owner == nil {
			complete = false
		} else {
			key, err := cryptoutils.Open(parent.Owner, edge.WrappedOwner, interfaces.EdgeKeyContext(edge.ChildRoleID, interfaces.KeyRoleOwner))
			if err != nil {
				return nil, false, fmt.Errorf("%w: edge %s owner copy", interfaces.ErrCorruptGraph, edge.ID)
			}
			derived.Owner = key
			opened = true
		}
	}

	if !opened {
		return nil, false, nil
	}
	return derived, complete, nil
}

// merge records a derived key, rejecting divergent copies.
func (r *KeyRing) merge(role interfaces.RoleID, level interfaces.AccessLevel, key cryptoutils.SymmetricKey) error {
	set, ok := r.roles[role]
	if !ok {
		set = &CapabilitySet{}
		r.roles[role] = set
	}

	existing := set.Key(level)
	if existing != nil {
		if !existing.Equal(key) {
			return fmt.Errorf("%w: divergent %s key copies for role %s", interfaces.ErrCorruptGraph, level, role)
		}
		return nil
	}

	switch level {
	case interfaces.AccessRead:
		set.Read = key
	case interfaces.AccessWrite:
		set.Write = key
	case interfaces.AccessOwner:
		set.Owner = key
	}
	return nil
}

// mergeSet merges a derived capability set, reporting whether any new key
// was learned.
func (r *KeyRing) mergeSet(role interfaces.RoleID, derived *CapabilitySet) (bool, error) {
	grew := false
	for _, level := range []interfaces.AccessLevel{interfaces.AccessRead, interfaces.AccessWrite, interfaces.AccessOwner} {
		key := derived.Key(level)
		if key == nil {
			continue
		}

		before := r.roles[role]
		had := before != nil && before.Key(level) != nil
		if err := r.merge(role, level, key); err != nil {
			return false, err
		}
		if !had {
			grew = true
		}
	}
	return grew, nil
}

// Master returns the session master secret the ring was seeded from.
func (r *KeyRing) Master() cryptoutils.SymmetricKey {
	return r.master
}

// Roots returns the role ids the principal controls directly.
func (r *KeyRing) Roots() []interfaces.RoleID {
	return append([]interfaces.RoleID(nil), r.roots...)
}

// Controls reports whether the ring holds any key for the role.
func (r *KeyRing) Controls(role interfaces.RoleID) bool {
	set, ok := r.roles[role]
	return ok && set.Level() != 0
}

// Has reports whether the ring holds the role's key of the given level.
func (r *KeyRing) Has(role interfaces.RoleID, level interfaces.AccessLevel) bool {
	return r.Key(role, level) != nil
}

// Key returns the role's key of the given level, or nil.
func (r *KeyRing) Key(role interfaces.RoleID, level interfaces.AccessLevel) cryptoutils.SymmetricKey {
	set, ok := r.roles[role]
	if !ok {
		return nil
	}
	return set.Key(level)
}

// Capabilities returns the role's derived capability set, or nil.
func (r *KeyRing) Capabilities(role interfaces.RoleID) *CapabilitySet {
	return r.roles[role]
}

// RoleIDs returns every role the ring holds at least one key for, in a
// stable order.
func (r *KeyRing) RoleIDs() []interfaces.RoleID {
	ids := make([]interfaces.RoleID, 0, len(r.roles))
	for id := range r.roles {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// OwnerRoleIDs is the ownership closure: the set of roles the principal may
// administer, derived from owner-typed reachability only.
func (r *KeyRing) OwnerRoleIDs() []interfaces.RoleID {
	var ids []interfaces.RoleID
	for _, id := range r.RoleIDs() {
		if r.roles[id].Owner != nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func keyTypeLevel(t interfaces.KeyType) interfaces.AccessLevel {
	switch t {
	case interfaces.KeyRoleRead:
		return interfaces.AccessRead
	case interfaces.KeyRoleWrite:
		return interfaces.AccessWrite
	case interfaces.KeyRoleOwner:
		return interfaces.AccessOwner
	default:
		return 0
	}
}
