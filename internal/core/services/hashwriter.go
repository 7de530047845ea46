package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
	"github.com/kilnworks/kiln-cli/internal/logger"
)

// Ensure HashWriter implements the interface.
var _ driven.Consumer = (*HashWriter)(nil)

// HashWriter persists hash records for dirty blocks. Records buffer per
// document and flush as one batch when the document's final dirty block
// arrives, so a document is either fully recorded or not recorded at
// all — a crash mid-document re-detects every block as dirty on the
// next scan.
type HashWriter struct {
	store   driven.HashStore
	session *Session

	mu      sync.Mutex
	pending map[string][]domain.HashRecord
	counts  map[string]uint32
}

// NewHashWriter creates a hash record writer. session may be nil; when
// set, successful writes invalidate the path's cache entry.
func NewHashWriter(store driven.HashStore, session *Session) *HashWriter {
	return &HashWriter{
		store:   store,
		session: session,
		pending: make(map[string][]domain.HashRecord),
		counts:  make(map[string]uint32),
	}
}

// Name identifies the consumer in logs and breaker state.
func (w *HashWriter) Name() string { return "hash-writer" }

// Accept buffers a dirty block's record and flushes the document's batch
// on its final block. Tombstones delete the document's records.
func (w *HashWriter) Accept(ctx context.Context, block domain.DirtyBlock) error {
	path := block.Block.Path

	if block.Kind == domain.DirtyTombstone {
		w.mu.Lock()
		delete(w.pending, path)
		delete(w.counts, path)
		w.mu.Unlock()

		if err := w.store.DeletePath(ctx, path); err != nil {
			return fmt.Errorf("delete records for %s: %w", path, err)
		}
		if w.session != nil {
			w.session.Invalidate(path)
		}
		return nil
	}

	w.mu.Lock()
	w.pending[path] = append(w.pending[path], domain.HashRecord{
		Path:         path,
		BlockIndex:   block.Block.Index,
		Digest:       block.Block.ContentDigest,
		FileSize:     block.FileSize,
		LastModified: block.LastModified,
	})
	if block.LastInDocument {
		w.counts[path] = block.BlockCount
	}
	w.mu.Unlock()

	if !block.LastInDocument {
		return nil
	}
	return w.flushPath(ctx, path)
}

// Flush writes any documents still buffered, e.g. when the final block
// of a document was dropped by a lagging inbox.
func (w *HashWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.mu.Unlock()

	for _, path := range paths {
		if err := w.flushPath(ctx, path); err != nil {
			return err
		}
	}
	return nil
}

func (w *HashWriter) flushPath(ctx context.Context, path string) error {
	w.mu.Lock()
	records := w.pending[path]
	count, haveCount := w.counts[path]
	delete(w.pending, path)
	delete(w.counts, path)
	w.mu.Unlock()

	if len(records) == 0 {
		return nil
	}

	if err := w.store.WriteBatch(ctx, records); err != nil {
		// Put the batch back so a later retry (breaker half-open) can
		// still write it.
		w.mu.Lock()
		w.pending[path] = append(records, w.pending[path]...)
		if haveCount {
			w.counts[path] = count
		}
		w.mu.Unlock()
		return fmt.Errorf("write records for %s: %w", path, err)
	}

	if haveCount {
		if err := w.store.TrimPath(ctx, path, count); err != nil {
			return fmt.Errorf("trim records for %s: %w", path, err)
		}
	}
	if w.session != nil {
		w.session.Invalidate(path)
	}
	logger.Debug("Wrote %d hash records for %s", len(records), path)
	return nil
}
