package syncer

import "time"

// Policy selects how the coordinator resolves true conflicts.
type Policy string

const (
	// PolicyManual blocks the conflicted backend until the caller resolves
	// explicitly. This is the default.
	PolicyManual Policy = "manual"

	// PolicyPreferLocal resolves divergent fields to the local (pending
	// write) side.
	PolicyPreferLocal Policy = "prefer_local"

	// PolicyPreferRemote resolves divergent fields to the remote backend's
	// current state.
	PolicyPreferRemote Policy = "prefer_remote"
)

// Valid reports whether p names a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyManual, PolicyPreferLocal, PolicyPreferRemote:
		return true
	}
	return false
}

// DivergentField describes one field that changed differently in local and
// remote relative to the base. Absent* flags distinguish deletion from a
// nil value.
type DivergentField struct {
	Name   string `json:"name"`
	Base   any    `json:"base,omitempty"`
	Local  any    `json:"local,omitempty"`
	Remote any    `json:"remote,omitempty"`

	AbsentBase   bool `json:"absent_base,omitempty"`
	AbsentLocal  bool `json:"absent_local,omitempty"`
	AbsentRemote bool `json:"absent_remote,omitempty"`
}

// ConflictReport is produced when local and remote both diverge from the
// recorded base and the divergence cannot be auto-resolved.
//
// Reports live only until a resolution decision consumes them; beyond the
// audit log they are never persisted.
type ConflictReport struct {
	Key     string `json:"key"`
	Backend string `json:"backend"`

	Base   map[string]any `json:"base"`
	Local  map[string]any `json:"local"`
	Remote map[string]any `json:"remote"`

	Divergent []DivergentField `json:"divergent"`

	// Suggested is the resolution the policy would apply, or PolicyManual
	// when no automatic resolution is safe.
	Suggested Policy `json:"suggested"`

	DetectedAt time.Time `json:"detected_at"`
}

// Fields returns the names of the divergent fields.
func (r *ConflictReport) Fields() []string {
	names := make([]string, len(r.Divergent))
	for i, d := range r.Divergent {
		names[i] = d.Name
	}
	return names
}

// SyncReport summarizes a SyncAll pass.
type SyncReport struct {
	KeysScanned int           `json:"keys_scanned"`
	Writes      int           `json:"writes"`
	Conflicts   int           `json:"conflicts"`
	Unavailable []string      `json:"unavailable,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// WriteResult reports the outcome of a coordinated write.
//
// FullySynced is true only when every backend accepted the write. A
// partial result is retryable and non-fatal: the caller may re-run the
// write (or SyncAll) once the failed backends recover, and must resolve
// any conflicts explicitly.
type WriteResult struct {
	Key string `json:"key"`

	// Digest is the digest of the payload actually written, which can
	// differ from the caller's payload when a one-sided remote change was
	// auto-merged in.
	Digest string `json:"digest"`

	// Payload is the payload actually written (post-merge).
	Payload map[string]any `json:"payload"`

	// Synced lists backends that accepted the write.
	Synced []string `json:"synced"`

	// Unchanged lists the subset of Synced that already held the final
	// digest and needed no write. A sync pass that leaves every backend
	// unchanged performed zero writes.
	Unchanged []string `json:"unchanged,omitempty"`

	// Unavailable lists backends that stayed unreachable after retries.
	Unavailable []string `json:"unavailable,omitempty"`

	// Conflicts holds one report per backend whose write is blocked
	// pending resolution.
	Conflicts []*ConflictReport `json:"conflicts,omitempty"`
}

// FullySynced reports whether every backend accepted the write.
func (r *WriteResult) FullySynced() bool {
	return len(r.Unavailable) == 0 && len(r.Conflicts) == 0
}

// EventType tags coordinator events delivered to the event sink.
type EventType string

const (
	EventWriteSynced      EventType = "write_synced"
	EventWritePartial     EventType = "write_partial"
	EventConflictDetected EventType = "conflict_detected"
	EventConflictResolved EventType = "conflict_resolved"
	EventReadRepair       EventType = "read_repair"
	EventSyncComplete     EventType = "sync_complete"
)

// Event is a coordinator activity notification, consumed by the live
// dashboard and by tests.
type Event struct {
	Type      EventType `json:"type"`
	Key       string    `json:"key,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
