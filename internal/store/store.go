package store

import "context"

// Store is the capability set every backend adapter implements.
//
// All operations are atomic at the single-key level. There are no
// cross-key transactions and no compare-and-swap; Put unconditionally
// overwrites. Every call honors the context deadline and surfaces
// cancellation or timeout as ErrUnavailable.
type Store interface {
	// Name identifies the backend in logs, snapshots, and sync reports
	// (e.g. "file", "kv", "crm").
	Name() string

	// Get returns the record stored under key, or an error wrapping
	// ErrNotFound. Implementations verify record integrity on read and
	// return an error wrapping ErrIntegrity for corrupt records.
	Get(ctx context.Context, key string) (*Record, error)

	// Put stores the record under rec.Key, overwriting any existing
	// record. The record must be sealed (digest current) before Put.
	Put(ctx context.Context, rec *Record) error

	// Delete removes the record stored under key. Returns an error
	// wrapping ErrNotFound if no such record exists.
	Delete(ctx context.Context, key string) error

	// ListKeys returns all keys beginning with prefix, sorted. The
	// listing is finite and restartable from the start only; backends
	// that paginate do so internally.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}
