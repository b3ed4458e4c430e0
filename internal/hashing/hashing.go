package hashing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// DefaultCostlyRounds is the round count used by CostlySum when the caller
// passes rounds <= 0.
const DefaultCostlyRounds = 10000

// Sum computes the canonical SHA-256 digest of a payload as a lowercase hex
// string. Semantically equal payloads produce identical digests regardless
// of key insertion order. Returns an *EncodingError if the payload cannot
// be canonicalized.
func Sum(payload map[string]any) (string, error) {
	data, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return SumBytes(data), nil
}

// SumBytes computes the SHA-256 digest of raw bytes as a lowercase hex string.
func SumBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StateSum computes the digest of a payload after stripping volatile
// bookkeeping fields. Use this when comparing replica state, where fields
// like updated_at legitimately differ between backends.
func StateSum(payload map[string]any) (string, error) {
	return Sum(Normalize(payload))
}

// CostlySum computes a multi-round chained digest of a payload.
//
// The first round hashes the canonical bytes; every subsequent round hashes
// the previous digest concatenated with the original canonical bytes. This
// chains each round to the full input, raising the cost of brute-force
// digest comparison roughly linearly in rounds.
//
// rounds <= 0 selects DefaultCostlyRounds. This is never called on the
// record-write hot path; reserve it for sensitive-data verification.
func CostlySum(payload map[string]any, rounds int) (string, error) {
	if rounds <= 0 {
		rounds = DefaultCostlyRounds
	}
	data, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(data)
	buf := make([]byte, 0, sha256.Size+len(data))
	for i := 1; i < rounds; i++ {
		buf = append(buf[:0], digest[:]...)
		buf = append(buf, data...)
		digest = sha256.Sum256(buf)
	}
	return hex.EncodeToString(digest[:]), nil
}

// VerifyContent reports whether a payload matches an expected digest.
// The comparison is constant-time. A payload that cannot be canonicalized
// never matches.
func VerifyContent(expected string, payload map[string]any) bool {
	actual, err := Sum(payload)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
