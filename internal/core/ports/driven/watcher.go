package driven

import "github.com/kilnworks/kiln-cli/internal/core/domain"

// Watcher delivers a deduplicated, debounced stream of filesystem change
// events. Delivery is at-least-once; ordering across distinct paths is
// not guaranteed.
type Watcher interface {
	// Events returns the event stream. The channel is closed when the
	// watcher stops.
	Events() <-chan domain.FileEvent

	// Errors returns watcher-internal errors. Informational; the
	// pipeline logs them and keeps running.
	Errors() <-chan error

	// Close stops the watcher and releases resources.
	Close() error
}
