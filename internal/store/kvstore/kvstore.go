// Package kvstore implements the low-latency key/value record store on
// embedded SQLite.
//
// The database runs in embedded mode with WAL enabled so concurrent
// readers are never blocked by a writer. It plays the role of the fast
// replica in the sync topology: the file store is the source of record,
// the KV store serves hot reads.
package kvstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/blackroad/statesync/internal/store"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Name is the backend identifier used in snapshots and sync reports.
const Name = "kv"

// KVStore wraps the SQLite connection with record-store semantics.
type KVStore struct {
	conn *sql.DB
	path string
}

// Open creates or opens a KV store database at the specified path.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	kv, err := kvstore.Open(".statesync/kv.db")
//	if err != nil {
//	    return err
//	}
//	defer kv.Close()
func Open(path string) (*KVStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %v: %w", err, store.ErrUnavailable)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	kv := &KVStore{conn: conn, path: path}

	// WAL for concurrent reads during writes.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := kv.initSchema(context.Background()); err != nil {
		_ = kv.Close()
		return nil, err
	}
	return kv, nil
}

// Close checkpoints the WAL and closes the connection.
func (kv *KVStore) Close() error {
	if kv.conn == nil {
		return nil
	}
	if _, err := kv.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := kv.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	kv.conn = nil
	return nil
}

// initSchema creates the records table. Idempotent.
func (kv *KVStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,   -- canonical JSON
		digest TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_digest ON records(digest);
	`
	if _, err := kv.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Name implements store.Store.
func (kv *KVStore) Name() string { return Name }

// Get implements store.Store.
func (kv *KVStore) Get(ctx context.Context, key string) (*store.Record, error) {
	query := `SELECT key, payload, digest, version, updated_at FROM records WHERE key = ?`
	row := kv.conn.QueryRowContext(ctx, query, key)

	var rec store.Record
	var payloadJSON, updatedAt string
	err := row.Scan(&rec.Key, &payloadJSON, &rec.Digest, &rec.Version, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: key %s: %w", Name, key, store.ErrNotFound)
		}
		return nil, classify(fmt.Errorf("failed to query record %s: %w", key, err))
	}

	if err := json.Unmarshal([]byte(payloadJSON), &rec.Payload); err != nil {
		return nil, fmt.Errorf("%s: failed to parse payload for %s: %v: %w", Name, key, err, store.ErrBackend)
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	if err := rec.Verify(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Put implements store.Store.
func (kv *KVStore) Put(ctx context.Context, rec *store.Record) error {
	payloadJSON, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal payload for %s: %v: %w", Name, rec.Key, err, store.ErrBackend)
	}

	query := `
	INSERT INTO records (key, payload, digest, version, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		payload = excluded.payload,
		digest = excluded.digest,
		version = MAX(records.version + 1, excluded.version),
		updated_at = excluded.updated_at
	`

	_, err = kv.conn.ExecContext(ctx, query,
		rec.Key,
		string(payloadJSON),
		rec.Digest,
		rec.Version,
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return classify(fmt.Errorf("failed to upsert record %s: %w", rec.Key, err))
	}
	return nil
}

// Delete implements store.Store.
func (kv *KVStore) Delete(ctx context.Context, key string) error {
	res, err := kv.conn.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key)
	if err != nil {
		return classify(fmt.Errorf("failed to delete record %s: %w", key, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: key %s: %w", Name, key, store.ErrNotFound)
	}
	return nil
}

// ListKeys implements store.Store.
func (kv *KVStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	query := `SELECT key FROM records WHERE key >= ? AND key GLOB ? ORDER BY key ASC`
	rows, err := kv.conn.QueryContext(ctx, query, prefix, globEscape(prefix)+"*")
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list keys: %w", err))
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%s: failed to scan key: %v: %w", Name, err, store.ErrBackend)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("error iterating keys: %w", err))
	}
	return keys, nil
}

// globEscape escapes GLOB metacharacters in a literal prefix.
func globEscape(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[':
			out = append(out, '[', s[i], ']')
		default:
			out = append(out, s[i])
		}
	}
	return string(out)
}

// classify tags a database error with the store taxonomy: context
// cancellation and deadline expiry are transient, everything else is a
// persistent backend failure.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %v: %w", Name, err, store.ErrUnavailable)
	}
	return fmt.Errorf("%s: %v: %w", Name, err, store.ErrBackend)
}
