package hashing

import (
	"encoding/json"
	"fmt"
	"math"
	"unicode/utf8"
)

// EncodingError reports a payload that cannot be canonicalized.
//
// This happens when a payload contains values the canonical form cannot
// represent without loss: invalid UTF-8 in strings or map keys, NaN or
// infinite floats, or values of unsupported Go types. Callers should treat
// this as fatal for the current operation; the payload must be fixed at the
// source rather than silently re-encoded.
type EncodingError struct {
	// Path is the location of the offending value, e.g. "fields.notes[2]".
	Path string

	// Reason describes why the value cannot be encoded.
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("cannot canonicalize payload: %s", e.Reason)
	}
	return fmt.Sprintf("cannot canonicalize payload at %s: %s", e.Path, e.Reason)
}

// volatileFields are bookkeeping fields stripped by Normalize before state
// comparison. Replicas update these independently, so they must not cause
// digest divergence.
var volatileFields = map[string]bool{
	"updated_at":    true,
	"last_modified": true,
	"etag":          true,
	"_metadata":     true,
}

// Canonicalize returns the canonical byte encoding of a payload.
//
// Keys are sorted, the encoding is compact JSON, and semantically equal
// payloads always produce identical bytes. Returns an *EncodingError if the
// payload contains values that cannot be represented losslessly.
func Canonicalize(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if err := validateValue(payload, "$"); err != nil {
		return nil, err
	}

	// encoding/json sorts map keys and uses compact separators, which is
	// exactly the canonical form we want. Unsupported values are caught by
	// validateValue above, so a marshal failure here is a programmer error.
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &EncodingError{Path: "$", Reason: err.Error()}
	}
	return data, nil
}

// validateValue walks the payload rejecting anything the canonical form
// cannot represent. path is used for error reporting only.
func validateValue(v any, path string) error {
	switch val := v.(type) {
	case nil, bool, json.Number:
		return nil
	case string:
		if !utf8.ValidString(val) {
			return &EncodingError{Path: path, Reason: "string is not valid UTF-8"}
		}
		return nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil
	case float32:
		return validateFloat(float64(val), path)
	case float64:
		return validateFloat(val, path)
	case []byte:
		// Raw bytes have no lossless JSON representation. Callers must
		// encode them explicitly (hex/base64) before hashing.
		return &EncodingError{Path: path, Reason: "raw []byte value has no canonical encoding"}
	case []any:
		for i, elem := range val {
			if err := validateValue(elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for i, elem := range val {
			if !utf8.ValidString(elem) {
				return &EncodingError{Path: fmt.Sprintf("%s[%d]", path, i), Reason: "string is not valid UTF-8"}
			}
		}
		return nil
	case map[string]any:
		for k, elem := range val {
			if !utf8.ValidString(k) {
				return &EncodingError{Path: path, Reason: "map key is not valid UTF-8"}
			}
			if err := validateValue(elem, path+"."+k); err != nil {
				return err
			}
		}
		return nil
	default:
		return &EncodingError{Path: path, Reason: fmt.Sprintf("unsupported type %T", v)}
	}
}

func validateFloat(f float64, path string) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &EncodingError{Path: path, Reason: "float value is NaN or infinite"}
	}
	return nil
}

// Normalize returns a deep copy of the payload with volatile bookkeeping
// fields removed at every nesting level. The input is not modified.
func Normalize(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if volatileFields[k] {
			continue
		}
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Normalize(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalizeValue(elem)
		}
		return out
	default:
		return v
	}
}
