package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
	"github.com/kilnworks/kiln-cli/internal/hashing"
	"github.com/kilnworks/kiln-cli/internal/logger"
)

// Resolver turns a file change event into the minimal set of dirty
// blocks by diffing the document's digest tree against the persisted
// hash records.
//
// A store lookup failure degrades to treating the whole document as
// dirty rather than aborting the scan. A parse failure yields zero
// blocks and is counted, not propagated.
//
// Safe for concurrent use by the worker pool; per-scan counters are
// atomic.
type Resolver struct {
	vault   string
	parser  driven.Parser
	byExt   map[string]driven.Parser
	session *Session

	filesScanned atomic.Int64
	blocksDirty  atomic.Int64
	blocksClean  atomic.Int64
	parseErrors  atomic.Int64
}

// NewResolver creates a resolver reading documents under vault. parser
// is the default; RegisterParser overrides it per extension.
func NewResolver(vault string, parser driven.Parser, session *Session) *Resolver {
	return &Resolver{vault: vault, parser: parser, byExt: make(map[string]driven.Parser), session: session}
}

// RegisterParser routes documents with the given extension (".txt") to a
// dedicated parser. Not safe to call once resolving has started.
func (r *Resolver) RegisterParser(ext string, parser driven.Parser) {
	r.byExt[strings.ToLower(ext)] = parser
}

func (r *Resolver) parserFor(path string) driven.Parser {
	if p, ok := r.byExt[strings.ToLower(filepath.Ext(path))]; ok {
		return p
	}
	return r.parser
}

// Session returns the resolver's cache session.
func (r *Resolver) Session() *Session {
	return r.session
}

// Resolve computes the dirty set for one change event. Entries are
// ordered by ascending block index with LastInDocument set on the final
// entry. A clean document yields an empty set. Deletions yield a single
// tombstone.
func (r *Resolver) Resolve(ctx context.Context, event domain.FileEvent) ([]domain.DirtyBlock, error) {
	r.filesScanned.Add(1)

	if event.Type == domain.FileDeleted {
		return []domain.DirtyBlock{domain.Tombstone(event.Path)}, nil
	}

	fullPath := filepath.Join(r.vault, event.Path)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			// File vanished between the event and the read.
			return []domain.DirtyBlock{domain.Tombstone(event.Path)}, nil
		}
		return nil, fmt.Errorf("read %s: %w", event.Path, err)
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", event.Path, err)
	}

	blocks, err := r.parserFor(event.Path).Parse(ctx, content)
	if err != nil {
		r.parseErrors.Add(1)
		logger.Error("Parse failed for %s: %v", event.Path, err)
		return nil, nil
	}

	digests := make([]domain.Digest, len(blocks))
	for i, b := range blocks {
		digests[i] = hashing.HashBlock([]byte(b.Text))
	}

	prior, err := r.session.Records(ctx, event.Path)
	allDirty := false
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			return nil, err
		}
		logger.Warn("Hash store unreachable for %s, treating all %d blocks as dirty: %v",
			event.Path, len(blocks), err)
		allDirty = true
		prior = nil
	}

	if len(blocks) == 0 {
		if len(prior) > 0 {
			// Document emptied out: drop its records.
			return []domain.DirtyBlock{domain.Tombstone(event.Path)}, nil
		}
		return nil, nil
	}

	dirtyIndices := r.dirtyIndices(event.Path, digests, prior, info.Size(), allDirty)
	r.blocksDirty.Add(int64(len(dirtyIndices)))
	r.blocksClean.Add(int64(len(blocks) - len(dirtyIndices)))

	if len(dirtyIndices) == 0 {
		if uint32(len(blocks)) < uint32(len(prior)) {
			// Pure tail shrink: nothing re-hashes dirty, but the stale
			// tail records must go. Re-emit the last surviving block so
			// the writer flushes and trims.
			dirtyIndices = []uint32{uint32(len(blocks)) - 1}
		} else {
			return nil, nil
		}
	}

	out := make([]domain.DirtyBlock, 0, len(dirtyIndices))
	for _, idx := range dirtyIndices {
		b := blocks[idx]
		out = append(out, domain.DirtyBlock{
			Kind: domain.DirtyContent,
			Block: domain.Block{
				Path:          event.Path,
				Index:         idx,
				ByteStart:     b.ByteStart,
				ByteEnd:       b.ByteEnd,
				ContentDigest: digests[idx],
				Text:          b.Text,
			},
			FileSize:     info.Size(),
			LastModified: info.ModTime(),
		})
	}
	out[len(out)-1].LastInDocument = true
	out[len(out)-1].BlockCount = uint32(len(blocks))
	return out, nil
}

// dirtyIndices diffs the new digests against the prior records. Over-
// reporting is tolerated; missing a changed block is not.
func (r *Resolver) dirtyIndices(path string, digests []domain.Digest, prior []domain.HashRecord, fileSize int64, allDirty bool) []uint32 {
	if allDirty || len(prior) == 0 {
		return allIndices(len(digests))
	}

	// Records are ordered by block index, but a gap (partial prior
	// write) means positional reconstruction would lie. Treat gaps as
	// fully dirty.
	priorDigests := make([]domain.Digest, len(prior))
	for i, rec := range prior {
		if rec.BlockIndex != uint32(i) {
			return allIndices(len(digests))
		}
		priorDigests[i] = rec.Digest
	}

	oldTree := hashing.Build(priorDigests)
	newTree := hashing.Build(digests)
	result := hashing.Diff(oldTree, newTree)

	// Digests match but the file size moved: block boundaries may have
	// shifted in ways the parser normalised away. Cheap to re-verify.
	if len(result.DirtyIndices) == 0 && len(digests) == len(prior) && prior[0].FileSize != fileSize {
		logger.Warn("Digests match but size changed for %s (%d -> %d), re-indexing",
			path, prior[0].FileSize, fileSize)
		return allIndices(len(digests))
	}

	return result.DirtyIndices
}

func allIndices(n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = uint32(i)
	}
	return out
}

// Stats returns the counters accumulated since construction.
func (r *Resolver) Stats() (filesScanned, blocksDirty, blocksClean, parseErrors int) {
	return int(r.filesScanned.Load()),
		int(r.blocksDirty.Load()),
		int(r.blocksClean.Load()),
		int(r.parseErrors.Load())
}
