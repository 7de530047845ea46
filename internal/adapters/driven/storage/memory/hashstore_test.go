package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/hashing"
)

func record(path string, index uint32, text string) domain.HashRecord {
	return domain.HashRecord{
		Path:         path,
		BlockIndex:   index,
		Digest:       hashing.HashBlock([]byte(text)),
		FileSize:     int64(len(text)),
		LastModified: time.Unix(1700000000, 0).UTC(),
	}
}

func TestHashStore_LookupOne_NotFound(t *testing.T) {
	store := NewHashStore()

	_, err := store.LookupOne(context.Background(), "notes/missing.md")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHashStore_WriteAndLookup(t *testing.T) {
	store := NewHashStore()
	ctx := context.Background()

	err := store.WriteBatch(ctx, []domain.HashRecord{
		record("notes/a.md", 1, "second"),
		record("notes/a.md", 0, "first"),
	})
	require.NoError(t, err)

	records, err := store.LookupOne(ctx, "notes/a.md")
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Records come back ordered by block index.
	assert.Equal(t, uint32(0), records[0].BlockIndex)
	assert.Equal(t, uint32(1), records[1].BlockIndex)
}

func TestHashStore_WriteBatch_PartialUpsertKeepsCleanRecords(t *testing.T) {
	store := NewHashStore()
	ctx := context.Background()

	require.NoError(t, store.WriteBatch(ctx, []domain.HashRecord{
		record("notes/a.md", 0, "first"),
		record("notes/a.md", 1, "second"),
	}))

	// Incremental rewrite of block 1 only.
	require.NoError(t, store.WriteBatch(ctx, []domain.HashRecord{
		record("notes/a.md", 1, "second edited"),
	}))

	records, err := store.LookupOne(ctx, "notes/a.md")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, hashing.HashBlock([]byte("first")), records[0].Digest)
	assert.Equal(t, hashing.HashBlock([]byte("second edited")), records[1].Digest)
}

func TestHashStore_TrimPath(t *testing.T) {
	store := NewHashStore()
	ctx := context.Background()

	require.NoError(t, store.WriteBatch(ctx, []domain.HashRecord{
		record("notes/a.md", 0, "a"),
		record("notes/a.md", 1, "b"),
		record("notes/a.md", 2, "c"),
	}))

	require.NoError(t, store.TrimPath(ctx, "notes/a.md", 2))

	records, err := store.LookupOne(ctx, "notes/a.md")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, uint32(1), records[1].BlockIndex)
}

func TestHashStore_LookupBatch(t *testing.T) {
	store := NewHashStore()
	ctx := context.Background()

	require.NoError(t, store.WriteBatch(ctx, []domain.HashRecord{
		record("notes/a.md", 0, "a"),
	}))

	result, err := store.LookupBatch(ctx, []string{"notes/a.md", "notes/b.md"})
	require.NoError(t, err)

	assert.Len(t, result.Found["notes/a.md"], 1)
	assert.Equal(t, []string{"notes/b.md"}, result.Missing)
}

func TestHashStore_DeletePath(t *testing.T) {
	store := NewHashStore()
	ctx := context.Background()

	require.NoError(t, store.WriteBatch(ctx, []domain.HashRecord{
		record("notes/a.md", 0, "a"),
	}))
	require.NoError(t, store.DeletePath(ctx, "notes/a.md"))

	_, err := store.LookupOne(ctx, "notes/a.md")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHashStore_AllPaths(t *testing.T) {
	store := NewHashStore()
	ctx := context.Background()

	require.NoError(t, store.WriteBatch(ctx, []domain.HashRecord{
		record("notes/b.md", 0, "b"),
		record("notes/a.md", 0, "a"),
		record("notes/a.md", 1, "aa"),
	}))

	paths, err := store.AllPaths(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"notes/a.md", "notes/b.md"}, paths)
}

func TestHashStore_FailLookups(t *testing.T) {
	store := NewHashStore()
	store.FailLookups = true

	_, err := store.LookupBatch(context.Background(), []string{"notes/a.md"})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestEmbeddingStore_RoundTrip(t *testing.T) {
	store := NewEmbeddingStore()
	ctx := context.Background()

	first := domain.EmbeddingRecord{
		Digest:      hashing.HashBlock([]byte("one")),
		Vector:      []float32{1, 0},
		GeneratedAt: time.Unix(1700000000, 0).UTC(),
	}
	second := domain.EmbeddingRecord{
		Digest:      hashing.HashBlock([]byte("two")),
		Vector:      []float32{0, 1},
		GeneratedAt: time.Unix(1700000001, 0).UTC(),
	}

	require.NoError(t, store.SaveEmbeddings(ctx, []domain.EmbeddingRecord{first, second}))

	loaded, err := store.LoadEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	// Insertion order survives the round trip.
	assert.Equal(t, first.Digest, loaded[0].Digest)
	assert.Equal(t, second.Digest, loaded[1].Digest)

	require.NoError(t, store.DeleteEmbedding(ctx, first.Digest))
	loaded, err = store.LoadEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, second.Digest, loaded[0].Digest)
}
