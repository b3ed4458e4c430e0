// Package filestore implements the file-backed record store: one
// pretty-printed JSON file per key under a root directory. This backend is
// the source of record; its files are human-editable, and the sync daemon
// watches them for external edits.
//
// Keys are slash-separated paths relative to the root ("task/bd-1" maps to
// <root>/task/bd-1.json). Writes are atomic: the record is written to a
// temp file in the target directory and renamed into place.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blackroad/statesync/internal/store"
)

// Name is the backend identifier used in snapshots and sync reports.
const Name = "file"

// FileStore stores records as JSON files under a root directory.
type FileStore struct {
	root string
}

// New creates a file store rooted at dir, creating the directory if needed.
func New(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store root %s: %w", abs, err)
	}
	return &FileStore{root: abs}, nil
}

// Root returns the absolute root directory of the store.
func (f *FileStore) Root() string { return f.root }

// Name implements store.Store.
func (f *FileStore) Name() string { return Name }

// pathFor maps a key to its file path, rejecting keys that would escape
// the root directory.
func (f *FileStore) pathFor(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key: %w", store.ErrBackend)
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid key %q: %w", key, store.ErrBackend)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("invalid key %q: %w", key, store.ErrBackend)
		}
	}
	return filepath.Join(f.root, filepath.FromSlash(key)+".json"), nil
}

// Get implements store.Store.
func (f *FileStore) Get(ctx context.Context, key string) (*store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", Name, err, store.ErrUnavailable)
	}

	path, err := f.pathFor(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: key %s: %w", Name, key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("%s: failed to read %s: %v: %w", Name, path, err, store.ErrBackend)
	}

	var rec store.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%s: failed to parse %s: %v: %w", Name, path, err, store.ErrBackend)
	}
	if rec.Key != key {
		return nil, fmt.Errorf("%s: file %s holds key %q, expected %q: %w", Name, path, rec.Key, key, store.ErrBackend)
	}
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put implements store.Store.
func (f *FileStore) Put(ctx context.Context, rec *store.Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %v: %w", Name, err, store.ErrUnavailable)
	}

	path, err := f.pathFor(rec.Key)
	if err != nil {
		return err
	}

	stored := rec.Clone()
	if prev, err := f.Get(ctx, rec.Key); err == nil && stored.Version <= prev.Version {
		stored.Version = prev.Version + 1
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: failed to marshal record %s: %v: %w", Name, rec.Key, err, store.ErrBackend)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%s: failed to create directory %s: %v: %w", Name, dir, err, store.ErrBackend)
	}

	// Write-and-rename so concurrent readers never see a partial file.
	tmp, err := os.CreateTemp(dir, ".tmp-*.json")
	if err != nil {
		return fmt.Errorf("%s: failed to create temp file: %v: %w", Name, err, store.ErrBackend)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%s: failed to write temp file: %v: %w", Name, err, store.ErrBackend)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%s: failed to close temp file: %v: %w", Name, err, store.ErrBackend)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%s: failed to replace %s: %v: %w", Name, path, err, store.ErrBackend)
	}
	return nil
}

// Delete implements store.Store.
func (f *FileStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %v: %w", Name, err, store.ErrUnavailable)
	}

	path, err := f.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: key %s: %w", Name, key, store.ErrNotFound)
		}
		return fmt.Errorf("%s: failed to delete %s: %v: %w", Name, path, err, store.ErrBackend)
	}
	return nil
}

// ListKeys implements store.Store.
func (f *FileStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %v: %w", Name, err, store.ErrUnavailable)
	}

	var keys []string
	err := filepath.WalkDir(f.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(f.root, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: failed to walk store root: %v: %w", Name, err, store.ErrBackend)
	}
	sort.Strings(keys)
	return keys, nil
}
