package kvstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/blackroad/statesync/internal/store"
)

func setupKV(t *testing.T) *KVStore {
	t.Helper()

	kv, err := Open(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("failed to open kv store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func mustRecord(t *testing.T, key string, payload map[string]any) *store.Record {
	t.Helper()
	rec, err := store.NewRecord(key, payload)
	if err != nil {
		t.Fatalf("NewRecord(%s) failed: %v", key, err)
	}
	return rec
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)

	rec := mustRecord(t, "task/bd-1", map[string]any{"title": "Task 1", "priority": "high"})
	if err := kv.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := kv.Get(ctx, "task/bd-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Payload["title"] != "Task 1" {
		t.Errorf("unexpected payload: %v", got.Payload)
	}
	if got.Digest != rec.Digest {
		t.Errorf("digest changed across round trip")
	}
	if err := got.Verify(); err != nil {
		t.Errorf("round-tripped record failed verification: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	kv := setupKV(t)
	_, err := kv.Get(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertBumpsVersion(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)

	rec := mustRecord(t, "task/bd-1", map[string]any{"n": 1})
	if err := kv.Put(ctx, rec); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if err := kv.Put(ctx, rec); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := kv.Get(ctx, "task/bd-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2 after upsert, got %d", got.Version)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)

	rec := mustRecord(t, "task/bd-1", map[string]any{"a": 1})
	if err := kv.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := kv.Delete(ctx, "task/bd-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := kv.Delete(ctx, "task/bd-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestListKeys(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)

	for _, key := range []string{"task/bd-2", "task/bd-1", "config/site"} {
		if err := kv.Put(ctx, mustRecord(t, key, map[string]any{"k": key})); err != nil {
			t.Fatalf("Put(%s) failed: %v", key, err)
		}
	}

	keys, err := kv.ListKeys(ctx, "task/")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	want := []string{"task/bd-1", "task/bd-2"}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	kv := setupKV(t)

	errCh := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(n int) {
			rec := &store.Record{
				Key:     "task/shared",
				Payload: map[string]any{"writer": n},
				Version: 1,
			}
			if err := rec.Seal(); err != nil {
				errCh <- err
				return
			}
			errCh <- kv.Put(ctx, rec)
		}(i)
	}
	for i := 0; i < 10; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("concurrent put %d failed: %v", i, err)
		}
	}

	got, err := kv.Get(ctx, "task/shared")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 10 {
		t.Errorf("expected version 10 after 10 upserts, got %d", got.Version)
	}
}
