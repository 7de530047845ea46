package filesystem

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kilnworks/kiln-cli/internal/core/domain"
	"github.com/kilnworks/kiln-cli/internal/core/ports/driven"
	"github.com/kilnworks/kiln-cli/internal/logger"
)

// Ensure Watcher implements the interface.
var _ driven.Watcher = (*Watcher)(nil)

// DefaultDebounce coalesces the event bursts editors produce on save.
const DefaultDebounce = 500 * time.Millisecond

// Watcher delivers debounced, deduplicated change events for a vault.
// It watches the tree recursively, picking up directories created after
// startup, and reports paths relative to the vault root.
type Watcher struct {
	vault      string
	debounce   time.Duration
	extensions map[string]struct{}

	fsw    *fsnotify.Watcher
	events chan domain.FileEvent
	errors chan error
	stop   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]pendingEvent
}

type pendingEvent struct {
	change domain.FileChangeType
	at     time.Time
}

// New creates a watcher over vault. extensions filters by file
// extension (with or without leading dot); nil watches .md, .markdown
// and .txt. debounce <= 0 uses DefaultDebounce.
func New(vault string, extensions []string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	exts := map[string]struct{}{".md": {}, ".markdown": {}, ".txt": {}}
	if len(extensions) > 0 {
		exts = make(map[string]struct{}, len(extensions))
		for _, e := range extensions {
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts[strings.ToLower(e)] = struct{}{}
		}
	}

	w := &Watcher{
		vault:      vault,
		debounce:   debounce,
		extensions: exts,
		fsw:        fsw,
		events:     make(chan domain.FileEvent, 64),
		errors:     make(chan error, 8),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		pending:    make(map[string]pendingEvent),
	}

	if err := w.watchTree(vault); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Events returns the event stream. Closed when the watcher stops.
func (w *Watcher) Events() <-chan domain.FileEvent {
	return w.events
}

// Errors returns watcher-internal errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Close stops the watcher and closes both channels.
func (w *Watcher) Close() error {
	close(w.stop)
	err := w.fsw.Close()
	<-w.done
	return err
}

// watchTree registers every directory under root, skipping hidden ones.
func (w *Watcher) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.events)
	defer close(w.errors)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			w.flush(true)
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				w.flush(true)
				return
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				continue
			}
			select {
			case w.errors <- err:
			default:
				logger.Warn("Watcher error dropped: %v", err)
			}

		case <-ticker.C:
			w.flush(false)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	// New directories must be watched before files land in them.
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(ev.Name), ".") {
				if err := w.watchTree(ev.Name); err != nil {
					logger.Warn("Failed to watch new directory %s: %v", ev.Name, err)
				}
			}
			return
		}
	}

	if _, ok := w.extensions[strings.ToLower(filepath.Ext(ev.Name))]; !ok {
		return
	}
	rel, err := filepath.Rel(w.vault, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	var change domain.FileChangeType
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		change = domain.FileDeleted
	case ev.Has(fsnotify.Create):
		change = domain.FileCreated
	case ev.Has(fsnotify.Write):
		change = domain.FileModified
	default:
		return
	}

	w.mu.Lock()
	prev, exists := w.pending[rel]
	w.pending[rel] = pendingEvent{change: coalesce(prev.change, change, exists), at: time.Now()}
	w.mu.Unlock()
}

// coalesce merges a burst of events for one path into a single type.
func coalesce(prev, next domain.FileChangeType, exists bool) domain.FileChangeType {
	if !exists {
		return next
	}
	switch {
	case next == domain.FileDeleted:
		return domain.FileDeleted
	case prev == domain.FileCreated:
		// Create followed by writes is still a create.
		return domain.FileCreated
	case prev == domain.FileDeleted:
		// Deleted then recreated: the file changed.
		return domain.FileModified
	default:
		return next
	}
}

// flush emits pending events older than the debounce window; force emits
// everything.
func (w *Watcher) flush(force bool) {
	w.mu.Lock()
	var ready []domain.FileEvent
	now := time.Now()
	for path, p := range w.pending {
		if force || now.Sub(p.at) >= w.debounce {
			ready = append(ready, domain.FileEvent{Path: path, Type: p.change})
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, ev := range ready {
		select {
		case w.events <- ev:
		case <-w.stop:
			if !force {
				return
			}
			// Best effort on shutdown; drop if nobody is listening.
			select {
			case w.events <- ev:
			default:
			}
		}
	}
}
