package store

import (
	"context"
	"sync"
)

// Faulty wraps a Store and injects failures, for exercising partial-sync
// and retry paths in tests.
type Faulty struct {
	inner Store

	mu  sync.Mutex
	err error
	// remaining limits how many operations fail before the store
	// recovers; negative means fail forever.
	remaining int
}

// NewFaulty wraps inner. The store behaves normally until FailWith is
// called.
func NewFaulty(inner Store) *Faulty {
	return &Faulty{inner: inner}
}

// FailWith makes every operation return err until Recover is called.
func (f *Faulty) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.remaining = -1
}

// FailNext makes the next n operations return err, then recovers.
func (f *Faulty) FailNext(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.remaining = n
}

// Recover restores normal operation.
func (f *Faulty) Recover() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = nil
	f.remaining = 0
}

func (f *Faulty) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

// Name implements Store.
func (f *Faulty) Name() string { return f.inner.Name() }

// Get implements Store.
func (f *Faulty) Get(ctx context.Context, key string) (*Record, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.inner.Get(ctx, key)
}

// Put implements Store.
func (f *Faulty) Put(ctx context.Context, rec *Record) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.Put(ctx, rec)
}

// Delete implements Store.
func (f *Faulty) Delete(ctx context.Context, key string) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

// ListKeys implements Store.
func (f *Faulty) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.inner.ListKeys(ctx, prefix)
}
