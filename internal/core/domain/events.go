package domain

import "time"

// FileChangeType is the kind of filesystem change reported by the watcher.
type FileChangeType int

const (
	// FileCreated indicates a new document.
	FileCreated FileChangeType = iota

	// FileModified indicates a changed document.
	FileModified

	// FileDeleted indicates a removed document.
	FileDeleted
)

// String returns a human-readable change type.
func (t FileChangeType) String() string {
	switch t {
	case FileCreated:
		return "created"
	case FileModified:
		return "modified"
	case FileDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// FileEvent is one deduplicated, debounced change notification from the
// watcher. Delivery is at-least-once; no ordering is guaranteed across
// distinct paths.
type FileEvent struct {
	// Path is the document path relative to the vault root.
	Path string

	// Type is the kind of change.
	Type FileChangeType
}

// CompletionEvent is published after a document's dirty blocks have been
// handed to all consumers, so a presentation layer can report progress.
type CompletionEvent struct {
	// Path is the document that finished processing.
	Path string

	// BlocksReindexed is the number of dirty blocks forwarded.
	BlocksReindexed int

	// Deleted is set for tombstoned documents.
	Deleted bool

	// Duration is the wall time from event pickup to fan-out completion.
	Duration time.Duration
}
