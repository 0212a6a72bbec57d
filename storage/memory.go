package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veilkey/capability-backend/interfaces"
)

// MemoryBackend keeps blobs in a process-local map. Meant for tests and
// single-node development setups; nothing survives a restart.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	log   *slog.Logger
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(log *slog.Logger) *MemoryBackend {
	return &MemoryBackend{
		blobs: make(map[string][]byte),
		log:   log,
	}
}

// Fetch returns a stored blob. Returns ErrContentNotFound for unknown IDs.
func (b *MemoryBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.blobs[blobKey(id, contentType)]
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}
	return append([]byte(nil), data...), nil
}

// Store keeps a copy of the blob under its SHA-256 content ID.
func (b *MemoryBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[blobKey(id, contentType)] = append([]byte(nil), data...)

	return id, nil
}

// Available always reports true.
func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

// Name returns a unique identifier for this backend.
func (b *MemoryBackend) Name() string {
	return "memory"
}

// LocationURI returns the URI that identifies this backend.
func (b *MemoryBackend) LocationURI() string {
	return "memory://"
}

func blobKey(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return fmt.Sprintf("%s/%s", contentType, id)
}
