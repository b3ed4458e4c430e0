// Package syncer implements the sync coordinator: a consistent view of
// records across N configured backends with digest-based conflict
// detection.
//
// The coordinator is explicitly constructed (no package-level singleton)
// and owns two pieces of state: the backend set (one primary, the
// file-backed source of record, plus any number of secondaries) and the
// snapshot table recording, per (key, backend), the last digest this
// coordinator observed agreeing with that backend. The snapshot digest is
// the compare-and-swap token: a write to a backend proceeds only when the
// backend's current digest matches the recorded base (or the incoming
// digest); anything else is divergence and goes through the three-way
// conflict detector.
//
// Writes fan out to all backends concurrently, so total latency is bounded
// by the slowest backend rather than the sum. Transient backend failures
// are retried with exponential backoff up to a bounded attempt count; true
// conflicts are never retried automatically. A write that could not reach
// every backend reports PartiallySynced - a retryable state, not a crash.
//
// Conflict resolution is conservative by default: a non-empty
// divergent-field list blocks the write for that backend until the caller
// supplies an explicit resolution. Prefer-local and prefer-remote are
// available as opt-in policies but never the default, because task
// records must not be double-claimed silently.
package syncer
