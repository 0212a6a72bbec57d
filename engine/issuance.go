package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/keyring"
	"github.com/veilkey/capability-backend/ledger"
)

// CreateRootRole provisions a principal's root role. The three capability
// keys are sealed under the principal's master secret; nothing else can ever
// recover them. Returns the new role id.
func (e *Engine) CreateRootRole(ctx context.Context, master cryptoutils.SymmetricKey) (interfaces.RoleID, error) {
	if err := master.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrPreconditionRequired, err)
	}

	material, err := generateRoleMaterial()
	if err != nil {
		return "", err
	}

	roleID := interfaces.NewRoleID()

	err = e.repo.Update(ctx, func(tx interfaces.Tx) error {
		entry, err := ledger.Append(tx, interfaces.LedgerKindKey, roleID, ledger.Event{
			Op:      "role.created",
			Entity:  roleID.String(),
			Details: map[string]string{"relationship": "root"},
		}, &ledger.SigningContext{RoleID: roleID, SigningKey: material.signing.Private})
		if err != nil {
			return err
		}

		if err := persistRole(tx, roleID, material, entry.ID); err != nil {
			return err
		}
		return persistKeyEntries(tx, roleID, material, master, entry.ID)
	})
	if err != nil {
		return "", err
	}

	e.log.Info("Created root role", "roleID", roleID)
	return roleID, nil
}

// CreateRole provisions a child role under a parent with the requested
// relationship. The caller must hold the parent's keys of every type the
// relationship transmits; requesting an owner relationship without owning
// the parent is forbidden.
//
// Generation, the sealed private blob, the master-wrapped key entries and
// the delegation edge are written in one atomic unit: a partial failure
// leaves no orphaned entity.
func (e *Engine) CreateRole(ctx context.Context, parentRoleID interfaces.RoleID, relationship interfaces.AccessLevel, ring *keyring.KeyRing) (interfaces.RoleID, error) {
	if err := relationship.Valid(); err != nil {
		return "", err
	}

	material, err := generateRoleMaterial()
	if err != nil {
		return "", err
	}

	roleID := interfaces.NewRoleID()

	err = e.repo.Update(ctx, func(tx interfaces.Tx) error {
		if _, err := tx.GetRole(parentRoleID); err != nil {
			return err
		}

		parentKeys, err := requireTransmittableKeys(ring, parentRoleID, relationship)
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindKey, parentRoleID, ledger.Event{
			Op:     "role.created",
			Entity: roleID.String(),
			Details: map[string]string{
				"parent":       parentRoleID.String(),
				"relationship": relationship.String(),
			},
		}, signingContextFor(tx, ring, parentRoleID))
		if err != nil {
			return err
		}

		if err := persistRole(tx, roleID, material, entry.ID); err != nil {
			return err
		}
		if err := persistKeyEntries(tx, roleID, material, ring.Master(), entry.ID); err != nil {
			return err
		}

		childKeys := &keyring.CapabilitySet{Read: material.read, Write: material.write, Owner: material.owner}
		edge, err := wrapEdge(parentRoleID, parentKeys, roleID, childKeys, relationship, entry.ID)
		if err != nil {
			return err
		}
		return tx.PutRoleEdge(edge)
	})
	if err != nil {
		return "", err
	}

	e.log.Info("Created role", "roleID", roleID, "parentRoleID", parentRoleID, "relationship", relationship)
	return roleID, nil
}

// persistRole writes the public half of a role plus its sealed private blob.
func persistRole(tx interfaces.Tx, roleID interfaces.RoleID, material *roleMaterial, provenance interfaces.LedgerEntryID) error {
	now := time.Now().UTC()

	blob, err := sealRoleSecrets(roleID, &roleSecrets{
		EncryptionKey: material.encryption.Private,
		SigningKey:    material.signing.Private,
		CreatedUTC:    now,
	}, material.owner)
	if err != nil {
		return err
	}

	return tx.PutRole(&interfaces.Role{
		ID:                   roleID,
		EncryptionPublicKey:  []byte(material.encryption.Public),
		SigningPublicKey:     []byte(material.signing.Public),
		EncryptedPrivateBlob: blob,
		ProvenanceID:         provenance,
		CreatedUTC:           now,
	})
}

// persistKeyEntries writes the role's three capability keys, each sealed
// under the issuing principal's master secret.
func persistKeyEntries(tx interfaces.Tx, roleID interfaces.RoleID, material *roleMaterial, master cryptoutils.SymmetricKey, provenance interfaces.LedgerEntryID) error {
	for _, kt := range []interfaces.KeyType{interfaces.KeyRoleRead, interfaces.KeyRoleWrite, interfaces.KeyRoleOwner} {
		key := material.key(levelForKeyType(kt))

		wrapped, err := cryptoutils.Seal(master, key, interfaces.KeyEntryContext(roleID, kt))
		if err != nil {
			return err
		}

		if err := tx.PutKeyEntry(&interfaces.KeyEntry{
			ID:           interfaces.NewKeyEntryID(),
			KeyType:      kt,
			OwnerRoleID:  roleID,
			WrappedKey:   wrapped,
			ProvenanceID: provenance,
			CreatedUTC:   time.Now().UTC(),
		}); err != nil {
			return err
		}
	}
	return nil
}

func levelForKeyType(t interfaces.KeyType) interfaces.AccessLevel {
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
