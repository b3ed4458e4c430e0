package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-memory Store used by tests and local scratch setups.
// It is safe for concurrent use.
type Memory struct {
	name string

	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemory creates an empty in-memory store with the given backend name.
func NewMemory(name string) *Memory {
	return &Memory{
		name:    name,
		records: make(map[string]*Record),
	}
}

// Name implements Store.
func (m *Memory) Name() string { return m.name }

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", m.name, err, ErrUnavailable)
	}

	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%s: key %s: %w", m.name, key, ErrNotFound)
	}
	out := rec.Clone()
	if err := out.Verify(); err != nil {
		return nil, err
	}
	return out, nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %v: %w", m.name, err, ErrUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := rec.Clone()
	if prev, ok := m.records[rec.Key]; ok && stored.Version <= prev.Version {
		stored.Version = prev.Version + 1
	}
	m.records[rec.Key] = stored
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %v: %w", m.name, err, ErrUnavailable)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[key]; !ok {
		return fmt.Errorf("%s: key %s: %w", m.name, key, ErrNotFound)
	}
	delete(m.records, key)
	return nil
}

// ListKeys implements Store.
func (m *Memory) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", m.name, err, ErrUnavailable)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key := range m.records {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
