package store

import (
	"fmt"
	"time"

	"github.com/blackroad/statesync/internal/hashing"
)

// Record is the unit of storage: a named, versioned payload with an
// integrity digest.
//
// The digest always covers the canonicalized payload and nothing else.
// Version is a backend-local monotonic counter bumped on every write; it is
// advisory (the sync coordinator's conflict detection relies on digests,
// not versions).
type Record struct {
	Key       string         `json:"key"`
	Payload   map[string]any `json:"payload"`
	Digest    string         `json:"digest"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewRecord builds a sealed record for the given key and payload.
func NewRecord(key string, payload map[string]any) (*Record, error) {
	if key == "" {
		return nil, fmt.Errorf("record key is required")
	}
	rec := &Record{
		Key:       key,
		Payload:   payload,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	if err := rec.Seal(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Seal recomputes the digest from the current payload. Call after any
// payload mutation and before persisting.
func (r *Record) Seal() error {
	digest, err := hashing.Sum(r.Payload)
	if err != nil {
		return fmt.Errorf("failed to seal record %s: %w", r.Key, err)
	}
	r.Digest = digest
	return nil
}

// Verify checks the stored digest against the payload. A mismatch means
// the record is corrupt and must not be used.
func (r *Record) Verify() error {
	if !hashing.VerifyContent(r.Digest, r.Payload) {
		return fmt.Errorf("record %s: digest does not match payload: %w", r.Key, ErrIntegrity)
	}
	return nil
}

// Clone returns a deep copy. Stores hand out clones so callers can mutate
// payloads without aliasing backend-owned state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Payload = clonePayload(r.Payload)
	return &out
}

func clonePayload(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return clonePayload(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	default:
		return v
	}
}
