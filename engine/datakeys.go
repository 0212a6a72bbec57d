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

// CreateDataItem seals plaintext under a fresh data key owned by the given
// role. The item gets its own signing identity; every write to the item is
// signed with it. The owning role receives an owner-level grant, and the
// canonical data key copy is kept as a key entry wrapped under the owner's
// read key.
func (e *Engine) CreateDataItem(ctx context.Context, ownerRoleID interfaces.RoleID, plaintext []byte, ring *keyring.KeyRing) (interfaces.DataItemID, error) {
	dataKey, err := cryptoutils.NewSymmetricKey()
	if err != nil {
		return "", err
	}
	signing, err := cryptoutils.GenerateRoleKeyPair()
	if err != nil {
		return "", err
	}

	itemID := interfaces.NewDataItemID()

	err = e.repo.Update(ctx, func(tx interfaces.Tx) error {
		if _, err := tx.GetRole(ownerRoleID); err != nil {
			return err
		}

		ownerKeys, err := requireTransmittableKeys(ring, ownerRoleID, interfaces.AccessWrite)
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindBusiness, ownerRoleID, ledger.Event{
			Op:     "data.created",
			Entity: itemID.String(),
		}, signingContextFor(tx, ring, ownerRoleID))
		if err != nil {
			return err
		}

		ciphertext, err := cryptoutils.Seal(dataKey, plaintext, interfaces.DataItemContext(itemID))
		if err != nil {
			return err
		}
		signature, err := cryptoutils.SignPayload(signing.Private, ciphertext)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.PutDataItem(&interfaces.DataItem{
			ID:               itemID,
			OwnerRoleID:      ownerRoleID,
			Ciphertext:       ciphertext,
			SigningPublicKey: []byte(signing.Public),
			ContentSignature: signature,
			ProvenanceID:     entry.ID,
			CreatedUTC:       now,
		}); err != nil {
			return err
		}

		wrappedKey, err := cryptoutils.Seal(ownerKeys.Read, dataKey, interfaces.DataKeyContext(itemID))
		if err != nil {
			return err
		}
		if err := tx.PutKeyEntry(&interfaces.KeyEntry{
			ID:           interfaces.NewKeyEntryID(),
			KeyType:      interfaces.KeyData,
			OwnerRoleID:  ownerRoleID,
			DataItemID:   itemID,
			WrappedKey:   wrappedKey,
			ProvenanceID: entry.ID,
			CreatedUTC:   now,
		}); err != nil {
			return err
		}

		grant, err := buildGrant(ownerRoleID, itemID, interfaces.AccessOwner, dataKey, signing.Private, ownerKeys, entry.ID)
		if err != nil {
			return err
		}
		return tx.PutGrant(grant)
	})
	if err != nil {
		return "", err
	}

	e.log.Info("Created data item", "itemID", itemID, "ownerRoleID", ownerRoleID)
	return itemID, nil
}

// OpenDataItem decrypts an item for a ring that holds a live grant on it.
// The content signature is verified before the plaintext is returned.
func (e *Engine) OpenDataItem(ctx context.Context, itemID interfaces.DataItemID, ring *keyring.KeyRing) ([]byte, error) {
	var plaintext []byte
	err := e.repo.View(ctx, func(tx interfaces.ReadTx) error {
		item, err := tx.GetDataItem(itemID)
		if err != nil {
			return err
		}

		if err := cryptoutils.VerifySignature(cryptoutils.PublicKeyPEM(item.SigningPublicKey), item.Ciphertext, item.ContentSignature); err != nil {
			return err
		}

		_, _, dataKey, err := resolveItemAccess(tx, ring, itemID, interfaces.AccessRead)
		if err != nil {
			return err
		}

		plaintext, err = cryptoutils.Open(dataKey, item.Ciphertext, interfaces.DataItemContext(itemID))
		return err
	})
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// UpdateDataItem replaces an item's content. The caller needs a write-capable
// grant: the data key re-seals the content and the item's signing key signs
// the new ciphertext.
func (e *Engine) UpdateDataItem(ctx context.Context, itemID interfaces.DataItemID, plaintext []byte, ring *keyring.KeyRing) error {
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		item, err := tx.GetDataItem(itemID)
		if err != nil {
			return err
		}

		roleID, grant, dataKey, err := resolveItemAccess(tx, ring, itemID, interfaces.AccessWrite)
		if err != nil {
			return err
		}
		signingKey, err := openItemSigningKey(ring, roleID, grant, itemID)
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindBusiness, roleID, ledger.Event{
			Op:     "data.updated",
			Entity: itemID.String(),
		}, signingContextFor(tx, ring, roleID))
		if err != nil {
			return err
		}

		ciphertext, err := cryptoutils.Seal(dataKey, plaintext, interfaces.DataItemContext(itemID))
		if err != nil {
			return err
		}
		signature, err := cryptoutils.SignPayload(signingKey, ciphertext)
		if err != nil {
			return err
		}

		item.Ciphertext = ciphertext
		item.ContentSignature = signature
		item.ProvenanceID = entry.ID
		return tx.PutDataItem(item)
	})
	if err != nil {
		return err
	}

	e.log.Info("Updated data item", "itemID", itemID)
	return nil
}

// GrantData gives another role access to an item at the requested level. The
// caller must hold the item at that level or above and must hold the
// grantee's wrapping keys; a live grant for the pair makes a second one a
// conflict.
func (e *Engine) GrantData(ctx context.Context, itemID interfaces.DataItemID, granteeRoleID interfaces.RoleID, level interfaces.AccessLevel, ring *keyring.KeyRing) (interfaces.GrantID, error) {
	if err := level.Valid(); err != nil {
		return "", err
	}

	var grantID interfaces.GrantID
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		if _, err := tx.GetDataItem(itemID); err != nil {
			return err
		}
		if _, err := tx.GetRole(granteeRoleID); err != nil {
			return err
		}

		existing, err := tx.FindLiveGrant(granteeRoleID, itemID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: role %s already holds a grant on item %s", interfaces.ErrConflict, granteeRoleID, itemID)
		}

		grantorRoleID, grantorGrant, dataKey, err := resolveItemAccess(tx, ring, itemID, level)
		if err != nil {
			return err
		}

		var signingKey cryptoutils.PrivateKeyPEM
		if level.Includes(interfaces.AccessWrite) {
			signingKey, err = openItemSigningKey(ring, grantorRoleID, grantorGrant, itemID)
			if err != nil {
				return err
			}
		}

		granteeKeys, err := requireTransmittableKeys(ring, granteeRoleID, level)
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindBusiness, grantorRoleID, ledger.Event{
			Op:     "grant.created",
			Entity: itemID.String(),
			Details: map[string]string{
				"grantee": granteeRoleID.String(),
				"level":   level.String(),
			},
		}, signingContextFor(tx, ring, grantorRoleID))
		if err != nil {
			return err
		}

		grant, err := buildGrant(granteeRoleID, itemID, level, dataKey, signingKey, granteeKeys, entry.ID)
		if err != nil {
			return err
		}
		grantID = grant.ID
		return tx.PutGrant(grant)
	})
	if err != nil {
		return "", err
	}

	e.log.Info("Granted data access", "itemID", itemID, "granteeRoleID", granteeRoleID, "level", level)
	return grantID, nil
}

// RevokeGrant retires a grant. Only an owner-level holder of the item can
// revoke; revoking an already revoked grant is a conflict.
func (e *Engine) RevokeGrant(ctx context.Context, grantID interfaces.GrantID, ring *keyring.KeyRing) error {
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		grant, err := tx.GetGrant(grantID)
		if err != nil {
			return err
		}
		if grant.RevokedUTC != nil {
			return fmt.Errorf("%w: grant %s is already revoked", interfaces.ErrConflict, grantID)
		}

		ownerRoleID, _, _, err := resolveItemAccess(tx, ring, grant.DataItemID, interfaces.AccessOwner)
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindBusiness, ownerRoleID, ledger.Event{
			Op:     "grant.revoked",
			Entity: grant.DataItemID.String(),
			Details: map[string]string{
				"grant_id": grantID.String(),
				"grantee":  grant.RoleID.String(),
			},
		}, signingContextFor(tx, ring, ownerRoleID))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		grant.RevokedUTC = &now
		grant.ProvenanceID = entry.ID
		return tx.PutGrant(grant)
	})
	if err != nil {
		return err
	}

	e.log.Info("Revoked grant", "grantID", grantID)
	return nil
}

// DestroyDataItem irreversibly destroys an item: the data key entry and the
// ciphertext are deleted and every live grant is revoked, all in one atomic
// unit. The wrapped key copies left inside revoked grants open nothing once
// the ciphertext is gone.
func (e *Engine) DestroyDataItem(ctx context.Context, itemID interfaces.DataItemID, ring *keyring.KeyRing) error {
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		if _, err := tx.GetDataItem(itemID); err != nil {
			return err
		}

		ownerRoleID, _, _, err := resolveItemAccess(tx, ring, itemID, interfaces.AccessOwner)
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindBusiness, ownerRoleID, ledger.Event{
			Op:     "data.destroyed",
			Entity: itemID.String(),
		}, signingContextFor(tx, ring, ownerRoleID))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		grants, err := tx.ListGrantsByItem(itemID)
		if err != nil {
			return err
		}
		for _, grant := range grants {
			if grant.RevokedUTC != nil {
				continue
			}
			grant.RevokedUTC = &now
			grant.ProvenanceID = entry.ID
			if err := tx.PutGrant(grant); err != nil {
				return err
			}
		}

		keyEntry, err := tx.FindDataKeyEntry(itemID)
		if err != nil {
			return err
		}
		if keyEntry != nil {
			if err := tx.DeleteKeyEntry(keyEntry.ID); err != nil {
				return err
			}
		}
		return tx.DeleteDataItem(itemID)
	})
	if err != nil {
		return err
	}

	e.log.Info("Destroyed data item", "itemID", itemID)
	return nil
}

// resolveItemAccess finds a ring role holding a live grant on the item at or
// above the needed level and unwraps the item's data key with that role's
// read key. Fails with ErrForbidden when no ring role qualifies.
func resolveItemAccess(tx interfaces.ReadTx, ring *keyring.KeyRing, itemID interfaces.DataItemID, need interfaces.AccessLevel) (interfaces.RoleID, *interfaces.Grant, cryptoutils.SymmetricKey, error) {
	for _, roleID := range ring.RoleIDs() {
		grant, err := tx.FindLiveGrant(roleID, itemID)
		if err != nil {
			return "", nil, nil, err
		}
		if grant == nil || !grant.Level.Includes(need) {
			continue
		}

		readKey := ring.Key(roleID, interfaces.AccessRead)
		if readKey == nil {
			continue
		}
		if need.Includes(interfaces.AccessWrite) && ring.Key(roleID, interfaces.AccessWrite) == nil {
			continue
		}

		dataKey, err := cryptoutils.Open(readKey, grant.WrappedDataKey, interfaces.DataKeyContext(itemID))
		if err != nil {
			return "", nil, nil, err
		}
		return roleID, grant, cryptoutils.SymmetricKey(dataKey), nil
	}
	return "", nil, nil, fmt.Errorf("%w: no %s access to item %s", interfaces.ErrForbidden, need, itemID)
}

// openItemSigningKey unwraps the item's signing key from a write-capable
// grant with the holding role's write key.
func openItemSigningKey(ring *keyring.KeyRing, roleID interfaces.RoleID, grant *interfaces.Grant, itemID interfaces.DataItemID) (cryptoutils.PrivateKeyPEM, error) {
	if len(grant.WrappedSigningKey) == 0 {
		return nil, fmt.Errorf("%w: grant %s carries no signing key", interfaces.ErrForbidden, grant.ID)
	}
	writeKey := ring.Key(roleID, interfaces.AccessWrite)
	if writeKey == nil {
		return nil, fmt.Errorf("%w: missing write key for role %s", interfaces.ErrForbidden, roleID)
	}

	pem, err := cryptoutils.Open(writeKey, grant.WrappedSigningKey, interfaces.DataSigningKeyContext(itemID))
	if err != nil {
		return nil, err
	}
	return cryptoutils.PrivateKeyPEM(pem), nil
}

// buildGrant wraps the item keys under the grantee's capability keys. The
// signing key travels only on write-capable grants.
func buildGrant(grantee interfaces.RoleID, itemID interfaces.DataItemID, level interfaces.AccessLevel, dataKey cryptoutils.SymmetricKey, signingKey cryptoutils.PrivateKeyPEM, granteeKeys *keyring.CapabilitySet, provenance interfaces.LedgerEntryID) (*interfaces.Grant, error) {
	wrappedDataKey, err := cryptoutils.Seal(granteeKeys.Read, dataKey, interfaces.DataKeyContext(itemID))
	if err != nil {
		return nil, err
	}

	grant := &interfaces.Grant{
		ID:             interfaces.NewGrantID(),
		RoleID:         grantee,
		DataItemID:     itemID,
		Level:          level,
		WrappedDataKey: wrappedDataKey,
		ProvenanceID:   provenance,
		CreatedUTC:     time.Now().UTC(),
	}

	if level.Includes(interfaces.AccessWrite) {
		wrappedSigningKey, err := cryptoutils.Seal(granteeKeys.Write, []byte(signingKey), interfaces.DataSigningKeyContext(itemID))
		if err != nil {
			return nil, err
		}
		grant.WrappedSigningKey = wrappedSigningKey
	}

	return grant, nil
}
