package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/blackroad/statesync/internal/store"
	"github.com/blackroad/statesync/internal/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait after a file change before
	// reconciling, batching rapid edits together.
	DebounceInterval time.Duration

	// FullSyncInterval is how often to run a full reconciliation pass
	// regardless of file activity. Zero disables periodic passes.
	FullSyncInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		FullSyncInterval: 5 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the file store root and keeps the secondary backends
// reconciled with it.
type Daemon struct {
	coord  *syncer.Coordinator
	root   string
	config *Config

	watcher *Watcher

	dirtyMu sync.Mutex
	dirty   map[string]time.Time // key -> last change

	wg sync.WaitGroup
}

// New creates a daemon that watches root (the primary file store
// directory) and reconciles through coord.
func New(coord *syncer.Coordinator, root string, config *Config) (*Daemon, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	if root == "" {
		return nil, fmt.Errorf("watch root cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}

	watcher, err := NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Daemon{
		coord:   coord,
		root:    root,
		config:  config,
		watcher: watcher,
		dirty:   make(map[string]time.Time),
	}, nil
}

// Run starts the daemon and blocks until ctx is cancelled.
//
// On startup it performs one full reconciliation pass, then processes
// file changes with debouncing and runs periodic full passes.
func (d *Daemon) Run(ctx context.Context) error {
	d.config.Logger.Println("starting daemon")

	if report, err := d.coord.SyncAll(ctx); err != nil {
		return fmt.Errorf("initial sync failed: %w", err)
	} else if report.Conflicts > 0 {
		d.config.Logger.Printf("initial sync found %d conflicts pending resolution", report.Conflicts)
	}

	if err := d.watcher.Start(d.root); err != nil {
		return err
	}
	defer func() {
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("failed to stop watcher: %v", err)
		}
	}()

	d.wg.Add(1)
	go d.flushLoop(ctx)

	var fullSync <-chan time.Time
	if d.config.FullSyncInterval > 0 {
		ticker := time.NewTicker(d.config.FullSyncInterval)
		defer ticker.Stop()
		fullSync = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.config.Logger.Println("daemon stopped")
			return nil

		case ev, ok := <-d.watcher.Events():
			if !ok {
				d.wg.Wait()
				return nil
			}
			d.markDirty(ev.Key)

		case err, ok := <-d.watcher.Errors():
			if !ok {
				d.wg.Wait()
				return nil
			}
			d.config.Logger.Printf("watcher error: %v", err)

		case <-fullSync:
			if _, err := d.coord.SyncAll(ctx); err != nil {
				d.config.Logger.Printf("periodic sync failed: %v", err)
			}
		}
	}
}

func (d *Daemon) markDirty(key string) {
	d.dirtyMu.Lock()
	d.dirty[key] = time.Now()
	d.dirtyMu.Unlock()
}

// flushLoop reconciles dirty keys once they have been quiet for the
// debounce interval.
func (d *Daemon) flushLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.flush(ctx)
		}
	}
}

func (d *Daemon) flush(ctx context.Context) {
	cutoff := time.Now().Add(-d.config.DebounceInterval)

	d.dirtyMu.Lock()
	var ready []string
	for key, changed := range d.dirty {
		if changed.Before(cutoff) {
			ready = append(ready, key)
			delete(d.dirty, key)
		}
	}
	d.dirtyMu.Unlock()

	for _, key := range ready {
		if err := d.reconcileKey(ctx, key); err != nil {
			d.config.Logger.Printf("failed to reconcile %s: %v", key, err)
		}
	}
}

// reconcileKey propagates a file-level change for one key to the other
// backends via a read: the coordinator's read-repair pushes the primary's
// state to any secondary that is behind. A file deleted from the primary
// is deleted everywhere.
func (d *Daemon) reconcileKey(ctx context.Context, key string) error {
	_, err := d.coord.Read(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		_, err = d.coord.Delete(ctx, key)
	}
	return err
}
