package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/keyring"
	"github.com/veilkey/capability-backend/ledger"
)

// ShareOutcome reports how a share was delivered.
type ShareOutcome string

const (
	// DirectGranted means the delegation edge was created immediately
	// because the caller's ring already held the target's wrapping keys.
	DirectGranted ShareOutcome = "direct-granted"

	// PendingDelivery means the key material was sealed to the target's
	// encryption public key and waits for the target owner's acceptance.
	PendingDelivery ShareOutcome = "pending"
)

// ShareResult is the outcome of ShareRole.
type ShareResult struct {
	Outcome ShareOutcome

	// PendingShareID is set when Outcome is PendingDelivery.
	PendingShareID interfaces.PendingShareID
}

// sharePayload is the plaintext sealed to the target on the pending path.
// Keys above the shared level are absent.
type sharePayload struct {
	SourceRoleID interfaces.RoleID        `json:"source_role_id"`
	Level        interfaces.AccessLevel   `json:"level"`
	ReadKey      cryptoutils.SymmetricKey `json:"read_key"`
	WriteKey     cryptoutils.SymmetricKey `json:"write_key,omitempty"`
	OwnerKey     cryptoutils.SymmetricKey `json:"owner_key,omitempty"`
}

// ShareRole shares the source role's capabilities with the target role at the
// given level. When the caller's ring also controls the target, the edge is
// created in place; otherwise the keys travel sealed to the target's
// encryption public key and the target's owner must accept them.
//
// A live edge or an undecided pending share between the pair makes a second
// share a conflict.
func (e *Engine) ShareRole(ctx context.Context, sourceRoleID, targetRoleID interfaces.RoleID, level interfaces.AccessLevel, ring *keyring.KeyRing) (*ShareResult, error) {
	if err := level.Valid(); err != nil {
		return nil, err
	}
	if sourceRoleID == targetRoleID {
		return nil, fmt.Errorf("%w: cannot share a role with itself", interfaces.ErrBadRequest)
	}

	var result *ShareResult
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		target, err := tx.GetRole(targetRoleID)
		if err != nil {
			return err
		}

		sourceKeys, err := requireTransmittableKeys(ring, sourceRoleID, level)
		if err != nil {
			return err
		}

		if err := rejectDuplicateShare(tx, sourceRoleID, targetRoleID); err != nil {
			return err
		}

		// Direct path: the session wraps the source's keys under the
		// target's own keys, no handoff needed.
		if targetKeys, err := requireTransmittableKeys(ring, targetRoleID, level); err == nil {
			entry, err := ledger.Append(tx, interfaces.LedgerKindKey, sourceRoleID, ledger.Event{
				Op:     "share.direct-granted",
				Entity: sourceRoleID.String(),
				Details: map[string]string{
					"target": targetRoleID.String(),
					"level":  level.String(),
				},
			}, signingContextFor(tx, ring, sourceRoleID))
			if err != nil {
				return err
			}

			edge, err := wrapEdge(targetRoleID, targetKeys, sourceRoleID, sourceKeys, level, entry.ID)
			if err != nil {
				return err
			}
			if err := tx.PutRoleEdge(edge); err != nil {
				return err
			}

			result = &ShareResult{Outcome: DirectGranted}
			return nil
		}

		sealed, err := sealSharePayload(target, sourceRoleID, level, sourceKeys)
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindKey, sourceRoleID, ledger.Event{
			Op:     "share.pending",
			Entity: sourceRoleID.String(),
			Details: map[string]string{
				"target": targetRoleID.String(),
				"level":  level.String(),
			},
		}, signingContextFor(tx, ring, sourceRoleID))
		if err != nil {
			return err
		}

		share := &interfaces.PendingShare{
			ID:            interfaces.NewPendingShareID(),
			SourceRoleID:  sourceRoleID,
			TargetRoleID:  targetRoleID,
			Level:         level,
			SealedPayload: sealed,
			Status:        interfaces.SharePending,
			ProvenanceID:  entry.ID,
			CreatedUTC:    time.Now().UTC(),
		}
		if err := tx.PutPendingShare(share); err != nil {
			return err
		}

		result = &ShareResult{Outcome: PendingDelivery, PendingShareID: share.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Shared role", "sourceRoleID", sourceRoleID, "targetRoleID", targetRoleID,
		"level", level, "outcome", result.Outcome)
	return result, nil
}

// AcceptPendingShare finalizes a pending share. Only the target role's owner
// can accept: the sealed payload opens with the target's encryption private
// key, which lives in the owner-sealed role blob. Acceptance creates the
// delegation edge and marks the share accepted in one atomic unit; a share
// can be accepted exactly once.
func (e *Engine) AcceptPendingShare(ctx context.Context, shareID interfaces.PendingShareID, ring *keyring.KeyRing) error {
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		share, err := tx.GetPendingShare(shareID)
		if err != nil {
			return err
		}
		if share.Status != interfaces.SharePending {
			return fmt.Errorf("%w: share %s already %s", interfaces.ErrConflict, shareID, share.Status)
		}

		ownerKey := ring.Key(share.TargetRoleID, interfaces.AccessOwner)
		if ownerKey == nil {
			return fmt.Errorf("%w: accepting a share requires owning role %s", interfaces.ErrForbidden, share.TargetRoleID)
		}

		target, err := tx.GetRole(share.TargetRoleID)
		if err != nil {
			return err
		}
		secrets, err := openRoleSecrets(target, ownerKey)
		if err != nil {
			return err
		}

		payload, err := openSharePayload(secrets.EncryptionKey, share)
		if err != nil {
			return err
		}

		if live, err := tx.FindLiveEdge(share.TargetRoleID, share.SourceRoleID); err != nil {
			return err
		} else if live != nil {
			return fmt.Errorf("%w: live edge %s -> %s already exists", interfaces.ErrConflict, share.TargetRoleID, share.SourceRoleID)
		}

		targetKeys, err := requireTransmittableKeys(ring, share.TargetRoleID, share.Level)
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindKey, share.TargetRoleID, ledger.Event{
			Op:     "share.accepted",
			Entity: share.SourceRoleID.String(),
			Details: map[string]string{
				"share_id": shareID.String(),
				"level":    share.Level.String(),
			},
		}, signingContextFor(tx, ring, share.TargetRoleID))
		if err != nil {
			return err
		}

		sourceKeys := &keyring.CapabilitySet{
			Read:  payload.ReadKey,
			Write: payload.WriteKey,
			Owner: payload.OwnerKey,
		}
		edge, err := wrapEdge(share.TargetRoleID, targetKeys, share.SourceRoleID, sourceKeys, share.Level, entry.ID)
		if err != nil {
			return err
		}
		if err := tx.PutRoleEdge(edge); err != nil {
			return err
		}

		now := time.Now().UTC()
		share.Status = interfaces.ShareAccepted
		share.AcceptedUTC = &now
		return tx.PutPendingShare(share)
	})
	if err != nil {
		return err
	}

	e.log.Info("Accepted pending share", "shareID", shareID)
	return nil
}

// RevokeEdge retires a delegation edge. The parent's owner key is the
// revocation authority. Key rings derived afterwards no longer reach the
// child through this edge; copies already derived are unaffected until their
// sessions end.
func (e *Engine) RevokeEdge(ctx context.Context, edgeID interfaces.EdgeID, ring *keyring.KeyRing) error {
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		edge, err := tx.GetRoleEdge(edgeID)
		if err != nil {
			return err
		}
		if edge.Revoked() {
			return fmt.Errorf("%w: edge %s is already revoked", interfaces.ErrConflict, edgeID)
		}
		if !ring.Has(edge.ParentRoleID, interfaces.AccessOwner) {
			return fmt.Errorf("%w: revoking requires owning role %s", interfaces.ErrForbidden, edge.ParentRoleID)
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindKey, edge.ParentRoleID, ledger.Event{
			Op:     "edge.revoked",
			Entity: edge.ChildRoleID.String(),
			Details: map[string]string{
				"edge_id": edgeID.String(),
			},
		}, signingContextFor(tx, ring, edge.ParentRoleID))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		edge.RevokedUTC = &now
		edge.ProvenanceID = entry.ID
		return tx.PutRoleEdge(edge)
	})
	if err != nil {
		return err
	}

	e.log.Info("Revoked edge", "edgeID", edgeID)
	return nil
}

// rejectDuplicateShare fails with ErrConflict when the pair already has a
// live edge or an undecided pending share.
func rejectDuplicateShare(tx interfaces.ReadTx, source, target interfaces.RoleID) error {
	live, err := tx.FindLiveEdge(target, source)
	if err != nil {
		return err
	}
	if live != nil {
		return fmt.Errorf("%w: role %s is already shared with %s", interfaces.ErrConflict, source, target)
	}

	shares, err := tx.ListPendingSharesByTarget(target)
	if err != nil {
		return err
	}
	for _, s := range shares {
		if s.SourceRoleID == source && s.Status == interfaces.SharePending {
			return fmt.Errorf("%w: share of %s to %s is already pending", interfaces.ErrConflict, source, target)
		}
	}
	return nil
}

func sealSharePayload(target *interfaces.Role, source interfaces.RoleID, level interfaces.AccessLevel, keys *keyring.CapabilitySet) ([]byte, error) {
	payload := sharePayload{
		SourceRoleID: source,
		Level:        level,
		ReadKey:      keys.Read,
	}
	if level.Includes(interfaces.AccessWrite) {
		payload.WriteKey = keys.Write
	}
	if level.Includes(interfaces.AccessOwner) {
		payload.OwnerKey = keys.Owner
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode share payload: %w", err)
	}
	return cryptoutils.SealToPublicKey(cryptoutils.PublicKeyPEM(target.EncryptionPublicKey), encoded)
}

func openSharePayload(encryptionKey cryptoutils.PrivateKeyPEM, share *interfaces.PendingShare) (*sharePayload, error) {
	encoded, err := cryptoutils.OpenWithPrivateKey(encryptionKey, share.SealedPayload)
	if err != nil {
		return nil, err
	}

	var payload sharePayload
	if err := json.Unmarshal(encoded, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed share payload", interfaces.ErrBadRequest)
	}
	if payload.SourceRoleID != share.SourceRoleID || payload.Level != share.Level {
		return nil, fmt.Errorf("%w: share payload does not match its record", interfaces.ErrBadRequest)
	}
	return &payload, nil
}
