package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/keyring"
	"github.com/veilkey/capability-backend/ledger"
)

const shareCodeBytes = 16

// HolderShare pairs a holder with its out-of-band share code. The codes are
// returned exactly once, at activation; the store keeps only their digests.
type HolderShare struct {
	HolderRoleID interfaces.RoleID
	ShareCode    string
}

// ActivationResult is the outcome of ActivateRecovery.
type ActivationResult struct {
	RecoveryKeyID interfaces.RecoveryKeyID
	Shares        []HolderShare
}

// RequestResult is the outcome of RequestRecovery. SessionPrivateKey stays
// with the requester; holder approvals are sealed to its public half.
type RequestResult struct {
	RequestID         interfaces.RecoveryRequestID
	SessionPrivateKey cryptoutils.PrivateKeyPEM
}

// CompletionResult carries the recovered owner key.
type CompletionResult struct {
	OwnerKey cryptoutils.SymmetricKey
}

// ActivateRecovery splits a fresh recovery secret into one random term per
// holder plus a server term, so that only the XOR of every term reproduces
// it. The role's owner key travels sealed under the recovery secret; the
// server term is sealed under the role's write key. Activation atomically
// revokes any previous configuration. Requires owning the role.
func (e *Engine) ActivateRecovery(ctx context.Context, roleID interfaces.RoleID, holderRoleIDs []interfaces.RoleID, ring *keyring.KeyRing) (*ActivationResult, error) {
	if len(holderRoleIDs) == 0 {
		return nil, fmt.Errorf("%w: recovery needs at least one holder", interfaces.ErrBadRequest)
	}
	seen := make(map[interfaces.RoleID]bool, len(holderRoleIDs))
	for _, holder := range holderRoleIDs {
		if holder == roleID {
			return nil, fmt.Errorf("%w: a role cannot hold its own recovery share", interfaces.ErrBadRequest)
		}
		if seen[holder] {
			return nil, fmt.Errorf("%w: duplicate holder %s", interfaces.ErrBadRequest, holder)
		}
		seen[holder] = true
	}

	ownerKey := ring.Key(roleID, interfaces.AccessOwner)
	writeKey := ring.Key(roleID, interfaces.AccessWrite)
	if ownerKey == nil || writeKey == nil {
		return nil, fmt.Errorf("%w: activating recovery requires owning role %s", interfaces.ErrForbidden, roleID)
	}

	secret, err := cryptoutils.NewSymmetricKey()
	if err != nil {
		return nil, err
	}

	result := &ActivationResult{RecoveryKeyID: interfaces.NewRecoveryKeyID()}

	err = e.repo.Update(ctx, func(tx interfaces.Tx) error {
		result.Shares = result.Shares[:0]

		if _, err := tx.GetRole(roleID); err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindAuth, roleID, ledger.Event{
			Op:     "recovery.activated",
			Entity: result.RecoveryKeyID.String(),
			Details: map[string]string{
				"role":    roleID.String(),
				"holders": fmt.Sprintf("%d", len(holderRoleIDs)),
			},
		}, signingContextFor(tx, ring, roleID))
		if err != nil {
			return err
		}

		if err := retireRecoveryConfig(tx, roleID, entry.ID); err != nil {
			return err
		}

		now := time.Now().UTC()

		// One random term per holder; the server term is whatever makes the
		// XOR of all terms equal the secret.
		serverTerm := make([]byte, cryptoutils.SymmetricKeySize)
		copy(serverTerm, secret)
		for _, holderID := range holderRoleIDs {
			holder, err := tx.GetRole(holderID)
			if err != nil {
				return err
			}

			term := make([]byte, cryptoutils.SymmetricKeySize)
			if _, err := rand.Read(term); err != nil {
				return err
			}
			serverTerm, err = cryptoutils.XORTerms(serverTerm, term)
			if err != nil {
				return err
			}

			sealedTerm, err := cryptoutils.SealToPublicKey(cryptoutils.PublicKeyPEM(holder.EncryptionPublicKey), term)
			if err != nil {
				return err
			}

			code := make([]byte, shareCodeBytes)
			if _, err := rand.Read(code); err != nil {
				return err
			}
			shareCode := hex.EncodeToString(code)

			if err := tx.PutRecoveryShare(&interfaces.RecoveryShare{
				ID:              interfaces.NewRecoveryShareID(),
				RecoveryKeyID:   result.RecoveryKeyID,
				HolderRoleID:    holderID,
				SealedTerm:      sealedTerm,
				ShareCodeDigest: cryptoutils.CommitmentHash([]byte(shareCode)),
				CreatedUTC:      now,
			}); err != nil {
				return err
			}
			result.Shares = append(result.Shares, HolderShare{HolderRoleID: holderID, ShareCode: shareCode})
		}

		wrappedServerTerm, err := cryptoutils.Seal(writeKey, serverTerm, interfaces.RecoveryServerTermContext(result.RecoveryKeyID))
		if err != nil {
			return err
		}
		sealedOwnerKey, err := cryptoutils.Seal(secret, ownerKey, interfaces.RecoveryOwnerKeyContext(result.RecoveryKeyID))
		if err != nil {
			return err
		}

		return tx.PutRecoveryKey(&interfaces.RecoveryKey{
			ID:                result.RecoveryKeyID,
			RoleID:            roleID,
			WrappedServerTerm: wrappedServerTerm,
			SealedOwnerKey:    sealedOwnerKey,
			ProvenanceID:      entry.ID,
			CreatedUTC:        now,
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Activated recovery", "roleID", roleID, "recoveryKeyID", result.RecoveryKeyID,
		"holders", len(holderRoleIDs))
	return result, nil
}

// RequestRecovery opens a recovery request against the role's active
// configuration. The required approval count is frozen at the number of
// active shares; every single holder must approve. The requester keeps the
// returned session private key, the store only sees its public half.
// Requires the role's write key.
func (e *Engine) RequestRecovery(ctx context.Context, roleID interfaces.RoleID, ring *keyring.KeyRing) (*RequestResult, error) {
	if !ring.Has(roleID, interfaces.AccessWrite) {
		return nil, fmt.Errorf("%w: requesting recovery requires the write key of role %s", interfaces.ErrForbidden, roleID)
	}

	session, err := cryptoutils.GenerateRoleKeyPair()
	if err != nil {
		return nil, err
	}

	requestID := interfaces.NewRecoveryRequestID()

	err = e.repo.Update(ctx, func(tx interfaces.Tx) error {
		config, err := tx.FindActiveRecoveryKey(roleID)
		if err != nil {
			return err
		}
		if config == nil {
			return fmt.Errorf("%w: role %s has no active recovery configuration", interfaces.ErrPreconditionRequired, roleID)
		}

		shares, err := tx.ListRecoveryShares(config.ID)
		if err != nil {
			return err
		}
		required := 0
		for _, share := range shares {
			if share.RevokedUTC == nil {
				required++
			}
		}
		if required == 0 {
			return fmt.Errorf("%w: recovery configuration %s has no active shares", interfaces.ErrPreconditionRequired, config.ID)
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindAuth, roleID, ledger.Event{
			Op:     "recovery.requested",
			Entity: requestID.String(),
			Details: map[string]string{
				"role":               roleID.String(),
				"required_approvals": fmt.Sprintf("%d", required),
			},
		}, signingContextFor(tx, ring, roleID))
		if err != nil {
			return err
		}

		return tx.PutRecoveryRequest(&interfaces.RecoveryRequest{
			ID:                 requestID,
			RecoveryKeyID:      config.ID,
			RoleID:             roleID,
			Status:             interfaces.RecoveryPending,
			RequiredApprovals:  required,
			RequesterPublicKey: []byte(session.Public),
			ProvenanceID:       entry.ID,
			CreatedUTC:         time.Now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Opened recovery request", "roleID", roleID, "requestID", requestID)
	return &RequestResult{RequestID: requestID, SessionPrivateKey: session.Private}, nil
}

// ApproveRecovery records one holder's approval. The holder proves itself
// twice: the ring must own the holder role, and the presented share code
// must match the digest committed at activation. The holder's term is
// unsealed with its own encryption key and re-sealed to the requester's
// session key. When the last outstanding holder approves, the request
// becomes ready.
func (e *Engine) ApproveRecovery(ctx context.Context, requestID interfaces.RecoveryRequestID, holderRoleID interfaces.RoleID, shareCode string, ring *keyring.KeyRing) error {
	ownerKey := ring.Key(holderRoleID, interfaces.AccessOwner)
	if ownerKey == nil {
		return fmt.Errorf("%w: approving requires owning holder role %s", interfaces.ErrForbidden, holderRoleID)
	}

	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		request, err := tx.GetRecoveryRequest(requestID)
		if err != nil {
			return err
		}
		if request.Status.Terminal() {
			return fmt.Errorf("%w: request %s is already %s", interfaces.ErrBadRequest, requestID, request.Status)
		}

		share, err := findHolderShare(tx, request.RecoveryKeyID, holderRoleID)
		if err != nil {
			return err
		}
		if !cryptoutils.VerifyCommitment([]byte(shareCode), share.ShareCodeDigest) {
			return fmt.Errorf("%w: share code rejected for holder %s", interfaces.ErrAuthentication, holderRoleID)
		}

		existing, err := tx.FindRecoveryApproval(requestID, holderRoleID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: holder %s already approved request %s", interfaces.ErrConflict, holderRoleID, requestID)
		}

		holder, err := tx.GetRole(holderRoleID)
		if err != nil {
			return err
		}
		secrets, err := openRoleSecrets(holder, ownerKey)
		if err != nil {
			return err
		}
		term, err := cryptoutils.OpenWithPrivateKey(secrets.EncryptionKey, share.SealedTerm)
		if err != nil {
			return err
		}
		encryptedApproval, err := cryptoutils.SealToPublicKey(cryptoutils.PublicKeyPEM(request.RequesterPublicKey), term)
		if err != nil {
			return err
		}

		if _, err := ledger.Append(tx, interfaces.LedgerKindAuth, holderRoleID, ledger.Event{
			Op:     "recovery.approved",
			Entity: requestID.String(),
			Details: map[string]string{
				"holder": holderRoleID.String(),
			},
		}, signingContextFor(tx, ring, holderRoleID)); err != nil {
			return err
		}

		if err := tx.PutRecoveryApproval(&interfaces.RecoveryApproval{
			ID:                interfaces.NewRecoveryApprovalID(),
			RequestID:         requestID,
			HolderRoleID:      holderRoleID,
			EncryptedApproval: encryptedApproval,
			CreatedUTC:        time.Now().UTC(),
		}); err != nil {
			return err
		}

		approvals, err := tx.ListRecoveryApprovals(requestID)
		if err != nil {
			return err
		}
		if len(approvals) >= request.RequiredApprovals {
			request.Status = interfaces.RecoveryReady
			return tx.PutRecoveryRequest(request)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info("Recorded recovery approval", "requestID", requestID, "holderRoleID", holderRoleID)
	return nil
}

// CancelRecovery resolves a request without completing it. The role's write
// key is the cancellation authority; a terminal request cannot be canceled.
func (e *Engine) CancelRecovery(ctx context.Context, requestID interfaces.RecoveryRequestID, ring *keyring.KeyRing) error {
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		request, err := tx.GetRecoveryRequest(requestID)
		if err != nil {
			return err
		}
		if request.Status.Terminal() {
			return fmt.Errorf("%w: request %s is already %s", interfaces.ErrBadRequest, requestID, request.Status)
		}
		if !ring.Has(request.RoleID, interfaces.AccessWrite) {
			return fmt.Errorf("%w: canceling requires the write key of role %s", interfaces.ErrForbidden, request.RoleID)
		}

		if _, err := ledger.Append(tx, interfaces.LedgerKindAuth, request.RoleID, ledger.Event{
			Op:     "recovery.canceled",
			Entity: requestID.String(),
		}, signingContextFor(tx, ring, request.RoleID)); err != nil {
			return err
		}

		now := time.Now().UTC()
		request.Status = interfaces.RecoveryCanceled
		request.ResolvedUTC = &now
		return tx.PutRecoveryRequest(request)
	})
	if err != nil {
		return err
	}

	e.log.Info("Canceled recovery request", "requestID", requestID)
	return nil
}

// CompleteRecovery reconstructs the recovery secret from a ready request:
// the server term opens with the role's write key, every holder term opens
// with the session private key, and their XOR yields the secret that unseals
// the role's owner key. Completion retires the whole configuration; the
// shares cannot be replayed.
func (e *Engine) CompleteRecovery(ctx context.Context, requestID interfaces.RecoveryRequestID, sessionPrivateKey cryptoutils.PrivateKeyPEM, ring *keyring.KeyRing) (*CompletionResult, error) {
	var result *CompletionResult
	err := e.repo.Update(ctx, func(tx interfaces.Tx) error {
		request, err := tx.GetRecoveryRequest(requestID)
		if err != nil {
			return err
		}
		if request.Status.Terminal() {
			return fmt.Errorf("%w: request %s is already %s", interfaces.ErrBadRequest, requestID, request.Status)
		}
		if request.Status != interfaces.RecoveryReady {
			return fmt.Errorf("%w: request %s still awaits approvals", interfaces.ErrBadRequest, requestID)
		}

		writeKey := ring.Key(request.RoleID, interfaces.AccessWrite)
		if writeKey == nil {
			return fmt.Errorf("%w: completing recovery requires the write key of role %s", interfaces.ErrForbidden, request.RoleID)
		}

		config, err := tx.GetRecoveryKey(request.RecoveryKeyID)
		if err != nil {
			return err
		}

		serverTerm, err := cryptoutils.Open(writeKey, config.WrappedServerTerm, interfaces.RecoveryServerTermContext(config.ID))
		if err != nil {
			return err
		}

		approvals, err := tx.ListRecoveryApprovals(requestID)
		if err != nil {
			return err
		}
		terms := [][]byte{serverTerm}
		for _, approval := range approvals {
			term, err := cryptoutils.OpenWithPrivateKey(sessionPrivateKey, approval.EncryptedApproval)
			if err != nil {
				return err
			}
			terms = append(terms, term)
		}

		secret, err := cryptoutils.XORTerms(terms...)
		if err != nil {
			return err
		}
		ownerKey, err := cryptoutils.Open(cryptoutils.SymmetricKey(secret), config.SealedOwnerKey, interfaces.RecoveryOwnerKeyContext(config.ID))
		if err != nil {
			return err
		}

		entry, err := ledger.Append(tx, interfaces.LedgerKindAuth, request.RoleID, ledger.Event{
			Op:     "recovery.completed",
			Entity: requestID.String(),
		}, signingContextFor(tx, ring, request.RoleID))
		if err != nil {
			return err
		}

		if err := retireRecoveryConfig(tx, request.RoleID, entry.ID); err != nil {
			return err
		}

		now := time.Now().UTC()
		request.Status = interfaces.RecoveryCompleted
		request.ResolvedUTC = &now
		if err := tx.PutRecoveryRequest(request); err != nil {
			return err
		}

		result = &CompletionResult{OwnerKey: cryptoutils.SymmetricKey(ownerKey)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("Completed recovery", "requestID", requestID)
	return result, nil
}

// retireRecoveryConfig revokes the role's active recovery configuration and
// its shares. Requests still open against the retired configuration can no
// longer collect approvals.
func retireRecoveryConfig(tx interfaces.Tx, roleID interfaces.RoleID, provenance interfaces.LedgerEntryID) error {
	config, err := tx.FindActiveRecoveryKey(roleID)
	if err != nil {
		return err
	}
	if config == nil {
		return nil
	}

	now := time.Now().UTC()
	config.RevokedUTC = &now
	if err := tx.PutRecoveryKey(config); err != nil {
		return err
	}

	shares, err := tx.ListRecoveryShares(config.ID)
	if err != nil {
		return err
	}
	for _, share := range shares {
		if share.RevokedUTC != nil {
			continue
		}
		share.RevokedUTC = &now
		if err := tx.PutRecoveryShare(share); err != nil {
			return err
		}
	}
	return nil
}

// findHolderShare returns the holder's active share of the configuration.
func findHolderShare(tx interfaces.ReadTx, configID interfaces.RecoveryKeyID, holder interfaces.RoleID) (*interfaces.RecoveryShare, error) {
	shares, err := tx.ListRecoveryShares(configID)
	if err != nil {
		return nil, err
	}
	for _, share := range shares {
		if share.HolderRoleID == holder && share.RevokedUTC == nil {
			return share, nil
		}
	}
	return nil, fmt.Errorf("%w: role %s holds no share of configuration %s", interfaces.ErrForbidden, holder, configID)
}

// RecoveryRequestView is the caller-visible state of a recovery request.
type RecoveryRequestView struct {
	ID                 interfaces.RecoveryRequestID
	RoleID             interfaces.RoleID
	Status             interfaces.RecoveryStatus
	RequiredApprovals  int
	SubmittedApprovals int
	CreatedUTC         time.Time
	ResolvedUTC        *time.Time
}

// RecoveryRequestStatus reports where a recovery request stands. It exposes
// no key material and needs no key ring.
func (e *Engine) RecoveryRequestStatus(ctx context.Context, requestID interfaces.RecoveryRequestID) (*RecoveryRequestView, error) {
	var view *RecoveryRequestView
	err := e.repo.View(ctx, func(tx interfaces.ReadTx) error {
		request, err := tx.GetRecoveryRequest(requestID)
		if err != nil {
			return err
		}
		approvals, err := tx.ListRecoveryApprovals(requestID)
		if err != nil {
			return err
		}
		view = &RecoveryRequestView{
			ID:                 request.ID,
			RoleID:             request.RoleID,
			Status:             request.Status,
			RequiredApprovals:  request.RequiredApprovals,
			SubmittedApprovals: len(approvals),
			CreatedUTC:         request.CreatedUTC,
			ResolvedUTC:        request.ResolvedUTC,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}
