// Package ledger implements the append-only audit ledger of privileged
// operations. Every capability-affecting mutation appends its entry inside
// the same store transaction that performs the mutation, so no entity can
// commit without provenance and no provenance record can exist for an entity
// that never committed.
package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
)

// SigningContext carries a role's unsealed signing key for the duration of
// one operation. It is produced by opening the role's private blob with its
// owner key and must not outlive the request.
type SigningContext struct {
	RoleID     interfaces.RoleID
	SigningKey cryptoutils.PrivateKeyPEM
}

// Event is the structured payload of a ledger entry. It describes the
// recorded action; it never carries key material.
type Event struct {
	// Op names the action, e.g. "role.created" or "share.accepted".
	Op string `json:"op"`

	// Entity is the id of the primary entity the action touched.
	Entity string `json:"entity,omitempty"`

	// Details holds additional plaintext metadata such as counterpart ids
	// or access levels.
	Details map[string]string `json:"details,omitempty"`
}

// Append records an event, optionally signed. The entry is staged in the
// caller's transaction; a failed append fails the enclosing operation, as no
// operation commits without its audit record.
func Append(tx interfaces.Tx, kind interfaces.LedgerKind, actor interfaces.RoleID, event Event, signing *SigningContext) (*interfaces.LedgerEntry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ledger event: %w", err)
	}

	entry := &interfaces.LedgerEntry{
		ID:         interfaces.NewLedgerEntryID(),
		Kind:       kind,
		Actor:      actor,
		Payload:    payload,
		CreatedUTC: time.Now().UTC(),
	}

	if signing != nil {
		signature, err := cryptoutils.SignPayload(signing.SigningKey, payload)
		if err != nil {
			return nil, fmt.Errorf("failed to sign ledger entry: %w", err)
		}
		entry.SignerRoleID = signing.RoleID
		entry.Signature = signature
	}

	if err := tx.AppendLedgerEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return entry, nil
}

// Verify checks a signed entry's signature against the signer's public
// signing key.
func Verify(entry *interfaces.LedgerEntry, signerPublicKey cryptoutils.PublicKeyPEM) error {
	if len(entry.Signature) == 0 {
		return fmt.Errorf("%w: entry %s is unsigned", interfaces.ErrBadRequest, entry.ID)
	}
	return cryptoutils.VerifySignature(signerPublicKey, entry.Payload, entry.Signature)
}
