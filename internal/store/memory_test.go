package store

import (
	"context"
	"errors"
	"testing"
)

func mustRecord(t *testing.T, key string, payload map[string]any) *Record {
	t.Helper()
	rec, err := NewRecord(key, payload)
	if err != nil {
		t.Fatalf("NewRecord(%s) failed: %v", key, err)
	}
	return rec
}

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("mem")

	rec := mustRecord(t, "task/1", map[string]any{"title": "Task"})
	if err := m.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := m.Get(ctx, "task/1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Payload["title"] != "Task" {
		t.Errorf("unexpected payload: %v", got.Payload)
	}

	// Mutating the returned record must not affect the store.
	got.Payload["title"] = "mutated"
	again, err := m.Get(ctx, "task/1")
	if err != nil {
		t.Fatalf("second Get failed: %v", err)
	}
	if again.Payload["title"] != "Task" {
		t.Error("store state aliased caller's record")
	}
}

func TestMemoryGetNotFound(t *testing.T) {
	m := NewMemory("mem")
	_, err := m.Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("mem")

	rec := mustRecord(t, "task/1", map[string]any{"a": 1})
	if err := m.Put(ctx, rec); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := m.Delete(ctx, "task/1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Delete(ctx, "task/1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestMemoryListKeys(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("mem")

	for _, key := range []string{"task/b", "task/a", "other/x"} {
		if err := m.Put(ctx, mustRecord(t, key, map[string]any{"k": key})); err != nil {
			t.Fatalf("Put(%s) failed: %v", key, err)
		}
	}

	keys, err := m.ListKeys(ctx, "task/")
	if err != nil {
		t.Fatalf("ListKeys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "task/a" || keys[1] != "task/b" {
		t.Errorf("unexpected keys: %v", keys)
	}
}

func TestMemoryVersionMonotonic(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("mem")

	rec := mustRecord(t, "task/1", map[string]any{"n": 1})
	if err := m.Put(ctx, rec); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	// Re-put the same version; the store bumps it.
	if err := m.Put(ctx, rec); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	got, err := m.Get(ctx, "task/1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2 after re-put, got %d", got.Version)
	}
}

func TestMemoryCancelledContext(t *testing.T) {
	m := NewMemory("mem")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Get(ctx, "task/1")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable for cancelled context, got %v", err)
	}
}
