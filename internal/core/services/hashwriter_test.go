package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln-cli/internal/adapters/driven/storage/memory"
	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/hashing"
)

func hashDigest(text string) domain.Digest {
	return hashing.HashBlock([]byte(text))
}

func dirtyBlock(path string, index uint32, text string, last bool, count uint32) domain.DirtyBlock {
	return domain.DirtyBlock{
		Kind: domain.DirtyContent,
		Block: domain.Block{
			Path:          path,
			Index:         index,
			ContentDigest: hashing.HashBlock([]byte(text)),
			Text:          text,
		},
		FileSize:       int64(len(text)),
		LastInDocument: last,
		BlockCount:     count,
	}
}

func TestHashWriter_BuffersUntilLastInDocument(t *testing.T) {
	store := memory.NewHashStore()
	writer := NewHashWriter(store, nil)
	ctx := context.Background()

	require.NoError(t, writer.Accept(ctx, dirtyBlock("a.md", 0, "one", false, 0)))
	require.NoError(t, writer.Accept(ctx, dirtyBlock("a.md", 1, "two", false, 0)))
	assert.Equal(t, 0, store.Writes, "nothing should persist before the final block")

	require.NoError(t, writer.Accept(ctx, dirtyBlock("a.md", 2, "three", true, 3)))

	assert.Equal(t, 1, store.Writes, "document flushes as one batch")
	assert.Equal(t, 3, store.RecordCount("a.md"))
}

func TestHashWriter_TrimsShrunkDocument(t *testing.T) {
	store := memory.NewHashStore()
	writer := NewHashWriter(store, nil)
	ctx := context.Background()

	// Seed five records.
	for i := uint32(0); i < 5; i++ {
		require.NoError(t, writer.Accept(ctx, dirtyBlock("a.md", i, "x", i == 4, 5)))
	}
	require.Equal(t, 5, store.RecordCount("a.md"))

	// Document shrank to two blocks; only block 1 re-flushed.
	require.NoError(t, writer.Accept(ctx, dirtyBlock("a.md", 1, "y", true, 2)))

	assert.Equal(t, 2, store.RecordCount("a.md"))
}

func TestHashWriter_TombstoneDeletesRecords(t *testing.T) {
	store := memory.NewHashStore()
	writer := NewHashWriter(store, nil)
	ctx := context.Background()

	require.NoError(t, writer.Accept(ctx, dirtyBlock("a.md", 0, "one", true, 1)))
	require.Equal(t, 1, store.RecordCount("a.md"))

	require.NoError(t, writer.Accept(ctx, domain.Tombstone("a.md")))

	assert.Equal(t, 0, store.RecordCount("a.md"))
}

func TestHashWriter_FailedWriteKeepsBatchPending(t *testing.T) {
	store := memory.NewHashStore()
	writer := NewHashWriter(store, nil)
	ctx := context.Background()

	store.FailWrites = true
	err := writer.Accept(ctx, dirtyBlock("a.md", 0, "one", true, 1))
	require.Error(t, err)
	assert.Equal(t, 0, store.RecordCount("a.md"))

	// Store recovers; Flush writes the retained batch.
	store.FailWrites = false
	require.NoError(t, writer.Flush(ctx))

	assert.Equal(t, 1, store.RecordCount("a.md"))
}

func TestHashWriter_FlushWritesStragglers(t *testing.T) {
	store := memory.NewHashStore()
	writer := NewHashWriter(store, nil)
	ctx := context.Background()

	// Final block never arrived (dropped by a lagging inbox).
	require.NoError(t, writer.Accept(ctx, dirtyBlock("a.md", 0, "one", false, 0)))
	assert.Equal(t, 0, store.RecordCount("a.md"))

	require.NoError(t, writer.Flush(ctx))

	assert.Equal(t, 1, store.RecordCount("a.md"))
}

func TestHashWriter_InvalidatesSessionOnWrite(t *testing.T) {
	store := memory.NewHashStore()
	session := NewSession(store)
	writer := NewHashWriter(store, session)
	ctx := context.Background()

	// Prime the cache with the empty state.
	_, err := session.Records(ctx, "a.md")
	require.NoError(t, err)

	require.NoError(t, writer.Accept(ctx, dirtyBlock("a.md", 0, "one", true, 1)))

	records, err := session.Records(ctx, "a.md")
	require.NoError(t, err)
	assert.Len(t, records, 1, "post-write lookup must see fresh records")
}
