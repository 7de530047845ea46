package domain

import (
	"encoding/hex"
	"time"
)

// DigestSize is the size of a content digest in bytes.
const DigestSize = 32

// Digest is a 256-bit content fingerprint. Two blocks with equal digests
// are treated as identical content regardless of where they appear.
type Digest [DigestSize]byte

// String returns the digest as lowercase hex.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 8 hex characters, for log lines.
func (d Digest) Short() string {
	return hex.EncodeToString(d[:4])
}

// IsZero reports whether the digest is the zero value.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// RawBlock is one unit of a document as emitted by the parser,
// before hashing. ByteStart/ByteEnd locate the block in the source file.
type RawBlock struct {
	// ByteStart is the offset of the block's first byte in the document.
	ByteStart int

	// ByteEnd is the offset one past the block's last byte.
	ByteEnd int

	// Text is the block content.
	Text string
}

// Block is an addressable unit of a document after hashing. Blocks are
// immutable: when content changes, a new Block with the same Index but a
// different ContentDigest supersedes the prior one.
type Block struct {
	// Path is the document path relative to the vault root.
	Path string

	// Index is the ordinal position of the block within the document.
	Index uint32

	// ByteStart and ByteEnd delimit the block within the document.
	ByteStart int
	ByteEnd   int

	// ContentDigest identifies the block content for change detection.
	ContentDigest Digest

	// Text is the block content, carried so downstream consumers
	// (embedding) do not re-read the file.
	Text string
}

// HashRecord is the persisted ground truth of what was last indexed for
// one block. It is written only after downstream processing succeeded,
// never before.
type HashRecord struct {
	// Path is the document path relative to the vault root.
	Path string

	// BlockIndex is the block's ordinal within the document.
	BlockIndex uint32

	// Digest is the block content digest at last successful indexing.
	Digest Digest

	// FileSize is the document size in bytes when the record was written.
	FileSize int64

	// LastModified is the document mtime when the record was written.
	LastModified time.Time
}

// DirtyKind distinguishes blocks needing reprocessing from tombstones.
type DirtyKind int

const (
	// DirtyContent marks a block whose content is new or changed.
	DirtyContent DirtyKind = iota

	// DirtyTombstone marks a deleted document. Consumers remove the
	// document's hash records and any orphaned embeddings.
	DirtyTombstone
)

// DirtyBlock is one entry of a dirty set: a block that must be
// reprocessed, or a tombstone for a deleted document.
type DirtyBlock struct {
	// Kind is the entry type.
	Kind DirtyKind

	// Block is the block to reprocess. Zero-valued except Path for
	// tombstones.
	Block Block

	// FileSize and LastModified describe the file state observed when
	// the block was hashed; they travel with the block so the hash
	// record written after success reflects the scanned state.
	FileSize     int64
	LastModified time.Time

	// LastInDocument is set on the final entry for a document within one
	// scan. The hash record writer flushes the document's batch when it
	// sees this.
	LastInDocument bool

	// BlockCount is the document's total block count at scan time. Valid
	// on entries with LastInDocument set; the hash record writer trims
	// records at or beyond this index so shrunk documents do not keep
	// stale tail records.
	BlockCount uint32
}

// Tombstone builds a tombstone entry for a deleted document.
func Tombstone(path string) DirtyBlock {
	return DirtyBlock{
		Kind:           DirtyTombstone,
		Block:          Block{Path: path},
		LastInDocument: true,
	}
}

// EmbeddingRecord is a persisted (digest, vector) pair. Keyed by content
// digest: identical content appearing in multiple documents shares one
// record. Never mutated after creation.
type EmbeddingRecord struct {
	Digest      Digest
	Vector      []float32
	GeneratedAt time.Time
}
