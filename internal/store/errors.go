package store

import "errors"

// Error taxonomy for store operations. Callers distinguish these with
// errors.Is; backends wrap them with fmt.Errorf("...: %w", ...) to add
// context without losing the classification.
var (
	// ErrNotFound indicates the key has no record in this backend.
	ErrNotFound = errors.New("record not found")

	// ErrUnavailable indicates a transient reachability failure (timeout,
	// connection refused, auth token expired). Backends must not retry
	// internally; retry policy belongs to the sync coordinator.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrBackend indicates a persistent backend-reported failure, such as
	// permission denied or a malformed stored value. Not retryable.
	ErrBackend = errors.New("backend error")

	// ErrIntegrity indicates a record whose stored digest does not match
	// its payload. Corrupt records are rejected, never silently accepted.
	ErrIntegrity = errors.New("integrity mismatch")
)
