package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/keyring"
	"github.com/veilkey/capability-backend/ledger"
)

// Engine is the capability engine. It holds no key material between
// requests; every operation receives the caller's transient key ring.
type Engine struct {
	repo interfaces.Repository
	log  *slog.Logger
}

// New creates an engine over the given record store.
func New(repo interfaces.Repository, log *slog.Logger) *Engine {
	return &Engine{repo: repo, log: log}
}

// BuildKeyRing derives the caller's key ring for this request. roots are the
// role ids the principal controls directly; master is the session master
// secret. Fails with ErrPreconditionRequired when the master secret cannot
// unseal the roots.
func (e *Engine) BuildKeyRing(ctx context.Context, roots []interfaces.RoleID, master cryptoutils.SymmetricKey) (*keyring.KeyRing, error) {
	var ring *keyring.KeyRing
	err := e.repo.View(ctx, func(tx interfaces.ReadTx) error {
		var err error
		ring, err = keyring.Build(tx, roots, master)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ring, nil
}

// roleSecrets is the plaintext form of a role's encrypted private blob.
type roleSecrets struct {
	EncryptionKey cryptoutils.PrivateKeyPEM `json:"encryption_key"`
	SigningKey    cryptoutils.PrivateKeyPEM `json:"signing_key"`
	CreatedUTC    time.Time                 `json:"created_utc"`
}

// sealRoleSecrets seals a role's private keys under its owner key.
func sealRoleSecrets(roleID interfaces.RoleID, secrets *roleSecrets, ownerKey cryptoutils.SymmetricKey) ([]byte, error) {
	encoded, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to encode role secrets: %w", err)
	}
	return cryptoutils.Seal(ownerKey, encoded, interfaces.RoleBlobContext(roleID))
}

// openRoleSecrets unseals a role's private blob with its owner key.
func openRoleSecrets(role *interfaces.Role, ownerKey cryptoutils.SymmetricKey) (*roleSecrets, error) {
	encoded, err := cryptoutils.Open(ownerKey, role.EncryptedPrivateBlob, interfaces.RoleBlobContext(role.ID))
	if err != nil {
		return nil, err
	}

	var secrets roleSecrets
	if err := json.Unmarshal(encoded, &secrets); err != nil {
		return nil, fmt.Errorf("failed to decode role secrets: %w", err)
	}
	return &secrets, nil
}

// signingContextFor unseals a role's signing key for one ledger append.
// Returns nil when the ring does not hold the role's owner key; ledger
// entries are then appended unsigned, which is allowed but weaker.
func signingContextFor(tx interfaces.ReadTx, ring *keyring.KeyRing, roleID interfaces.RoleID) *ledger.SigningContext {
	ownerKey := ring.Key(roleID, interfaces.AccessOwner)
	if ownerKey == nil {
		return nil
	}

	role, err := tx.GetRole(roleID)
	if err != nil {
		return nil
	}

	secrets, err := openRoleSecrets(role, ownerKey)
	if err != nil {
		return nil
	}

	return &ledger.SigningContext{RoleID: roleID, SigningKey: secrets.SigningKey}
}

// roleMaterial is the full set of fresh key material one role is born with.
type roleMaterial struct {
	encryption *cryptoutils.RoleKeyPair
	signing    *cryptoutils.RoleKeyPair
	read       cryptoutils.SymmetricKey
	write      cryptoutils.SymmetricKey
	owner      cryptoutils.SymmetricKey
}

// generateRoleMaterial creates the RSA identities and the three symmetric
// capability keys for a new role.
func generateRoleMaterial() (*roleMaterial, error) {
	encryption, err := cryptoutils.GenerateRoleKeyPair()
	if err != nil {
		return nil, err
	}
	signing, err := cryptoutils.GenerateRoleKeyPair()
	if err != nil {
		return nil, err
	}

	read, err := cryptoutils.NewSymmetricKey()
	if err != nil {
		return nil, err
	}
	write, err := cryptoutils.NewSymmetricKey()
	if err != nil {
		return nil, err
	}
	owner, err := cryptoutils.NewSymmetricKey()
	if err != nil {
		return nil, err
	}

	return &roleMaterial{
		encryption: encryption,
		signing:    signing,
		read:       read,
		write:      write,
		owner:      owner,
	}, nil
}

// key returns the material's capability key of the given level.
func (m *roleMaterial) key(level interfaces.AccessLevel) cryptoutils.SymmetricKey {
	switch level {
	case interfaces.AccessRead:
		return m.read
	case interfaces.AccessWrite:
		return m.write
	case interfaces.AccessOwner:
		return m.owner
	default:
		return nil
	}
}

// wrapEdge builds a delegation edge from parent to child carrying the
// child's key copies up to level, each copy sealed under the parent's key of
// the matching type. The edge's access level itself is sealed under the
// parent's read key and blind-indexed for equality lookup.
func wrapEdge(parent interfaces.RoleID, parentKeys *keyring.CapabilitySet, child interfaces.RoleID, childKeys *keyring.CapabilitySet, level interfaces.AccessLevel, provenance interfaces.LedgerEntryID) (*interfaces.RoleEdge, error) {
	edge := &interfaces.RoleEdge{
		ID:           interfaces.NewEdgeID(),
		ParentRoleID: parent,
		ChildRoleID:  child,
		ProvenanceID: provenance,
		CreatedUTC:   time.Now().UTC(),
	}

	wrappedRead, err := cryptoutils.Seal(parentKeys.Read, childKeys.Read, interfaces.EdgeKeyContext(child, interfaces.KeyRoleRead))
	if err != nil {
		return nil, err
	}
	edge.WrappedRead = wrappedRead

	if level.Includes(interfaces.AccessWrite) {
		wrappedWrite, err := cryptoutils.Seal(parentKeys.Write, childKeys.Write, interfaces.EdgeKeyContext(child, interfaces.KeyRoleWrite))
		if err != nil {
			return nil, err
		}
		edge.WrappedWrite = wrappedWrite
	}

	if level.Includes(interfaces.AccessOwner) {
		wrappedOwner, err := cryptoutils.Seal(parentKeys.Owner, childKeys.Owner, interfaces.EdgeKeyContext(child, interfaces.KeyRoleOwner))
		if err != nil {
			return nil, err
		}
		edge.WrappedOwner = wrappedOwner
	}

	encryptedRelationship, err := cryptoutils.Seal(parentKeys.Read, []byte(level.String()), interfaces.EdgeRelationshipContext(edge.ID))
	if err != nil {
		return nil, err
	}
	edge.EncryptedRelationship = encryptedRelationship
	edge.RelationshipIndex = cryptoutils.KeyedHash(parentKeys.Read, interfaces.RelationshipIndexInput(level))

	return edge, nil
}

// requireTransmittableKeys checks that the ring holds every key of the
// source role needed to transmit it at the given level.
func requireTransmittableKeys(ring *keyring.KeyRing, role interfaces.RoleID, level interfaces.AccessLevel) (*keyring.CapabilitySet, error) {
	set := ring.Capabilities(role)
	if set == nil {
		return nil, fmt.Errorf("%w: no keys for role %s", interfaces.ErrForbidden, role)
	}

	for _, required := range []interfaces.AccessLevel{interfaces.AccessRead, interfaces.AccessWrite, interfaces.AccessOwner} {
		if !level.Includes(required) {
			continue
		}
		if set.Key(required) == nil {
			return nil, fmt.Errorf("%w: missing %s key for role %s", interfaces.ErrForbidden, required, role)
		}
	}

	return set, nil
}
