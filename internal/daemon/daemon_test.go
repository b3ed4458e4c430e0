package daemon

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/blackroad/statesync/internal/store"
	"github.com/blackroad/statesync/internal/store/filestore"
	"github.com/blackroad/statesync/internal/syncer"
)

func TestDaemonReconcilesExternalEdits(t *testing.T) {
	root := t.TempDir()
	files, err := filestore.New(root)
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	kv := store.NewMemory("kv")

	coord, err := syncer.New(syncer.Config{
		Primary:     files,
		Secondaries: []store.Store{kv},
		BaseBackoff: time.Millisecond,
		Logger:      log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("syncer.New: %v", err)
	}
	defer coord.Close()

	d, err := New(coord, root, &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// Simulate another process editing the file store directly.
	rec, err := store.NewRecord("state/app", map[string]any{"v": 1})
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	if err := files.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// The daemon should notice and push the record to the secondary.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if got, err := kv.Get(context.Background(), "state/app"); err == nil {
			if got.Digest != rec.Digest {
				t.Fatalf("secondary digest = %s, want %s", got.Digest, rec.Digest)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("secondary never received the external edit")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}

func TestDaemonRequiresCoordinator(t *testing.T) {
	if _, err := New(nil, t.TempDir(), nil); err == nil {
		t.Fatal("New accepted a nil coordinator")
	}
}
