// Package daemon provides file system watching for the background sync
// daemon. The primary file store is the source of record and can be edited
// by other processes (or by hand); the daemon notices those edits and
// schedules reconciliation passes.
package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new record file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing record file was modified.
	OpModify
	// OpDelete indicates a record file was deleted.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// KeyEvent is a file system event translated to the record key it affects.
type KeyEvent struct {
	// Key is the record key derived from the file path.
	Key string
	// Path is the absolute path of the file that changed.
	Path string
	// Op is the operation that occurred.
	Op EventOp
}

// Watcher watches the file store root for record changes. Record files
// live in nested directories (one path segment per key segment), so new
// directories are added to the watch as they appear.
type Watcher struct {
	watcher *fsnotify.Watcher
	events  chan KeyEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	root    string
}

// NewWatcher creates a Watcher. It must be started with Start before it
// emits events.
func NewWatcher() (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: watcher,
		events:  make(chan KeyEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the file store root and every directory below it.
func (w *Watcher) Start(root string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve watch root %s: %w", root, err)
	}
	w.root = abs

	err = filepath.WalkDir(abs, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", abs, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and cleans up. It blocks until the event loop has
// exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel that emits KeyEvent notifications. The
// channel is closed when the watcher is stopped.
func (w *Watcher) Events() <-chan KeyEvent {
	return w.events
}

// Errors returns the channel that emits error notifications. The channel
// is closed when the watcher is stopped.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning reports whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// New subdirectories must join the watch so records created
			// under them are seen.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.watcher.Add(event.Name); err != nil {
						select {
						case w.errors <- err:
						case <-w.done:
							return
						}
					}
					continue
				}
			}

			if keyEvent, ok := w.convertEvent(event); ok {
				select {
				case w.events <- keyEvent:
				case <-w.done:
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a KeyEvent, or reports false for
// events that should be ignored (non-record files, atomic-write temp
// files, chmod noise).
func (w *Watcher) convertEvent(event fsnotify.Event) (KeyEvent, bool) {
	if !strings.HasSuffix(event.Name, ".json") {
		return KeyEvent{}, false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".tmp-") {
		return KeyEvent{}, false
	}

	key, ok := w.keyFor(event.Name)
	if !ok {
		return KeyEvent{}, false
	}

	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove):
		op = OpDelete
	case event.Has(fsnotify.Rename):
		// A rename shows up as delete; the new name triggers a create.
		op = OpDelete
	default:
		return KeyEvent{}, false
	}

	return KeyEvent{Key: key, Path: event.Name, Op: op}, true
}

// keyFor derives the record key from a file path under the watch root.
func (w *Watcher) keyFor(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
	if key == "" {
		return "", false
	}
	return key, true
}
