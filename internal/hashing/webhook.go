package hashing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix is the algorithm tag carried in signature headers,
// matching the convention used by GitHub and similar webhook senders.
const signaturePrefix = "sha256="

// Sign computes the signature header value for an outbound request body:
// "sha256=" followed by the hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature authenticates body under secret.
//
// The signature may carry the "sha256=" prefix or be a bare hex digest.
// Comparison is constant-time. Any malformed signature (wrong algorithm
// tag, invalid hex, wrong length) fails verification; this function never
// panics and never returns an error, so callers branch on the boolean only.
func VerifySignature(body []byte, signature, secret string) bool {
	sig := signature
	if i := strings.IndexByte(sig, '='); i >= 0 {
		if sig[:i+1] != signaturePrefix {
			return false
		}
		sig = sig[i+1:]
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
