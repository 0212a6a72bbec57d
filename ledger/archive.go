package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
)

// archiveContext binds archived batches to their purpose.
var archiveContext = []byte("ledger-archive-batch")

// Batch is one sealed export of consecutive ledger entries.
type Batch struct {
	FromSeq    uint64                    `json:"from_seq"`
	ToSeq      uint64                    `json:"to_seq"`
	Entries    []*interfaces.LedgerEntry `json:"entries"`
	ArchivedAt time.Time                 `json:"archived_at"`
}

// Archiver exports sealed ledger batches to a content-addressed blob
// backend. The archive key never leaves the server; the backends only ever
// see ciphertext.
type Archiver struct {
	repo    interfaces.Repository
	backend interfaces.BlobBackend
	sealKey cryptoutils.SymmetricKey
	log     *slog.Logger
}

// NewArchiver creates an archiver writing to the given backend, sealing
// batches under sealKey.
func NewArchiver(repo interfaces.Repository, backend interfaces.BlobBackend, sealKey cryptoutils.SymmetricKey, log *slog.Logger) (*Archiver, error) {
	if err := sealKey.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive seal key: %w", err)
	}

	return &Archiver{
		repo:    repo,
		backend: backend,
		sealKey: sealKey,
		log:     log,
	}, nil
}

// Archive exports all entries with sequence numbers >= fromSeq as one sealed
// batch. It returns the batch's content ID and the next sequence number to
// archive from. Archiving is read-only with respect to the ledger.
func (a *Archiver) Archive(ctx context.Context, fromSeq uint64) (interfaces.ContentID, uint64, error) {
	var entries []*interfaces.LedgerEntry
	err := a.repo.View(ctx, func(tx interfaces.ReadTx) error {
		var err error
		entries, err = tx.ListLedgerEntries(fromSeq)
		return err
	})
	if err != nil {
		return interfaces.ContentID{}, fromSeq, err
	}

	if len(entries) == 0 {
		return interfaces.ContentID{}, fromSeq, interfaces.ErrContentNotFound
	}

	batch := Batch{
		FromSeq:    entries[0].Seq,
		ToSeq:      entries[len(entries)-1].Seq,
		Entries:    entries,
		ArchivedAt: time.Now().UTC(),
	}

	encoded, err := json.Marshal(batch)
	if err != nil {
		return interfaces.ContentID{}, fromSeq, fmt.Errorf("failed to encode ledger batch: %w", err)
	}

	sealed, err := cryptoutils.Seal(a.sealKey, encoded, archiveContext)
	if err != nil {
		return interfaces.ContentID{}, fromSeq, fmt.Errorf("failed to seal ledger batch: %w", err)
	}

	id, err := a.backend.Store(ctx, sealed, interfaces.LedgerArchiveType)
	if err != nil {
		return interfaces.ContentID{}, fromSeq, fmt.Errorf("failed to store ledger batch: %w", err)
	}

	a.log.Info("Archived ledger batch",
		slog.String("content_id", id.String()),
		slog.Uint64("from_seq", batch.FromSeq),
		slog.Uint64("to_seq", batch.ToSeq),
		slog.Int("entries", len(entries)),
		slog.String("backend", a.backend.Name()))

	return id, batch.ToSeq + 1, nil
}

// Restore fetches and unseals a previously archived batch.
func (a *Archiver) Restore(ctx context.Context, id interfaces.ContentID) (*Batch, error) {
	sealed, err := a.backend.Fetch(ctx, id, interfaces.LedgerArchiveType)
	if err != nil {
		return nil, err
	}

	encoded, err := cryptoutils.Open(a.sealKey, sealed, archiveContext)
	if err != nil {
		return nil, err
	}

	var batch Batch
	if err := json.Unmarshal(encoded, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode ledger batch: %w", err)
	}

	return &batch, nil
}
