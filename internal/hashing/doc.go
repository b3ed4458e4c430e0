// Package hashing provides deterministic content digests for state
// synchronization, plus webhook signature creation and verification.
//
// All digests are computed over a canonical serialization of the payload:
// map keys are sorted, encoding is compact, and volatile bookkeeping fields
// can be stripped before comparison. Two semantically equal payloads always
// produce the same digest regardless of map iteration or insertion order.
//
// The package offers three digest flavors:
//
//   - Sum: single-round SHA-256 over canonical bytes. Used for record
//     integrity tags and per-backend digest comparison. This is the hot
//     path and is cheap.
//   - CostlySum: multi-round chained SHA-256 (default 10,000 rounds) that
//     raises the cost of brute-force comparison. Used only on
//     sensitive-data verification paths.
//   - StateSum: Sum over a normalized payload with volatile fields
//     (updated_at, last_modified, etag, _metadata) removed. Used when
//     comparing replicas that legitimately disagree on bookkeeping fields.
//
// Webhook signatures follow the common "sha256=<hex>" header convention:
// an HMAC-SHA256 over the raw request body keyed by a shared secret.
// Verification is constant-time and reports failure via its boolean
// result, never via an error or panic.
package hashing
