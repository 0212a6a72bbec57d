package ledger_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilkey/capability-backend/cryptoutils"
	"github.com/veilkey/capability-backend/interfaces"
	"github.com/veilkey/capability-backend/ledger"
	"github.com/veilkey/capability-backend/storage"
	"github.com/veilkey/capability-backend/storage/memstore"
)

func newArchiver(t *testing.T) (*ledger.Archiver, interfaces.Repository, cryptoutils.SymmetricKey) {
	t.Helper()
	repo := memstore.New()
	t.Cleanup(func() { repo.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sealKey, err := cryptoutils.NewSymmetricKey()
	require.NoError(t, err)

	archiver, err := ledger.NewArchiver(repo, storage.NewMemoryBackend(log), sealKey, log)
	require.NoError(t, err)
	return archiver, repo, sealKey
}

func appendEntries(t *testing.T, repo interfaces.Repository, n int) {
	t.Helper()
	err := repo.Update(context.Background(), func(tx interfaces.Tx) error {
		for i := 0; i < n; i++ {
			if _, err := ledger.Append(tx, interfaces.LedgerKindKey, interfaces.NewRoleID(), ledger.Event{Op: "role.created"}, nil); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestArchiveAndRestore(t *testing.T) {
	archiver, repo, _ := newArchiver(t)
	ctx := context.Background()

	appendEntries(t, repo, 5)

	id, nextSeq, err := archiver.Archive(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), nextSeq)

	batch, err := archiver.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), batch.FromSeq)
	assert.Equal(t, uint64(5), batch.ToSeq)
	assert.Len(t, batch.Entries, 5)
}

func TestArchiveIncremental(t *testing.T) {
	archiver, repo, _ := newArchiver(t)
	ctx := context.Background()

	appendEntries(t, repo, 3)
	_, nextSeq, err := archiver.Archive(ctx, 0)
	require.NoError(t, err)

	appendEntries(t, repo, 2)
	id, _, err := archiver.Archive(ctx, nextSeq)
	require.NoError(t, err)

	batch, err := archiver.Restore(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), batch.FromSeq, "second batch continues where the first ended")
	assert.Len(t, batch.Entries, 2)
}

func TestArchiveEmptyRange(t *testing.T) {
	archiver, _, _ := newArchiver(t)

	_, _, err := archiver.Archive(context.Background(), 1)
	assert.ErrorIs(t, err, interfaces.ErrContentNotFound)
}

func TestRestoreWithWrongKeyFails(t *testing.T) {
	repo := memstore.New()
	defer repo.Close()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := storage.NewMemoryBackend(log)
	ctx := context.Background()

	sealKey, err := cryptoutils.NewSymmetricKey()
	require.NoError(t, err)
	archiver, err := ledger.NewArchiver(repo, backend, sealKey, log)
	require.NoError(t, err)

	appendEntries(t, repo, 1)
	id, _, err := archiver.Archive(ctx, 0)
	require.NoError(t, err)

	wrongKey, err := cryptoutils.NewSymmetricKey()
	require.NoError(t, err)
	other, err := ledger.NewArchiver(repo, backend, wrongKey, log)
	require.NoError(t, err)

	_, err = other.Restore(ctx, id)
	assert.ErrorIs(t, err, interfaces.ErrAuthentication, "archives are sealed, not just encoded")
}
