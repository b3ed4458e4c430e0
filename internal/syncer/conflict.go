package syncer

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
)

// MergeOutcome is the result of a three-way comparison.
//
// When Divergent is empty the merge is clean: Merged combines the
// one-sided changes from both replicas and can be written everywhere.
// When Divergent is non-empty, Merged carries the local side for the
// conflicted fields and must not be written without a resolution.
type MergeOutcome struct {
	Merged    map[string]any
	Divergent []DivergentField
}

// Clean reports whether the merge produced no true conflicts.
func (m MergeOutcome) Clean() bool { return len(m.Divergent) == 0 }

// Merge performs a field-by-field three-way comparison over the union of
// the three payloads' top-level keys.
//
// Rules, per field:
//   - local and remote agree (same value or both absent): no conflict.
//   - only one side changed relative to base: auto-resolve to the changed
//     side, including deletion.
//   - both sides changed differently (modified differently, added
//     independently with different values, or delete-vs-modify): true
//     conflict. Delete-vs-modify is never auto-resolved.
//
// A nil base means no last-agreed state is known (first contact with a
// diverging backend); every field then counts as independently added.
func Merge(base, local, remote map[string]any) MergeOutcome {
	keys := unionKeys(base, local, remote)

	merged := make(map[string]any, len(local))
	var divergent []DivergentField

	for _, k := range keys {
		bv, inBase := base[k]
		lv, inLocal := local[k]
		rv, inRemote := remote[k]

		switch {
		case inLocal == inRemote && valueEqual(lv, rv):
			// Both sides agree; keep the value if it exists.
			if inLocal {
				merged[k] = lv
			}
		case inLocal == inBase && valueEqual(lv, bv):
			// Local untouched; remote changed (or deleted) the field.
			if inRemote {
				merged[k] = rv
			}
		case inRemote == inBase && valueEqual(rv, bv):
			// Remote untouched; local changed (or deleted) the field.
			if inLocal {
				merged[k] = lv
			}
		default:
			if inLocal {
				merged[k] = lv
			}
			divergent = append(divergent, DivergentField{
				Name:         k,
				Base:         bv,
				Local:        lv,
				Remote:       rv,
				AbsentBase:   !inBase,
				AbsentLocal:  !inLocal,
				AbsentRemote: !inRemote,
			})
		}
	}

	return MergeOutcome{Merged: merged, Divergent: divergent}
}

// unionKeys returns the sorted union of the maps' keys, so reports list
// divergent fields deterministically.
func unionKeys(maps ...map[string]any) []string {
	seen := make(map[string]bool)
	for _, m := range maps {
		for k := range m {
			seen[k] = true
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valueEqual compares two field values by canonical encoding, so that an
// int written locally and the float64 it becomes after a JSON round trip
// through a backend still compare equal.
func valueEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ab, bb)
}

// resolveDivergent applies a non-manual policy to a merge outcome,
// returning the payload the policy selects. The caller has already decided
// the policy allows automatic resolution.
func resolveDivergent(outcome MergeOutcome, policy Policy) map[string]any {
	resolved := make(map[string]any, len(outcome.Merged))
	for k, v := range outcome.Merged {
		resolved[k] = v
	}
	for _, d := range outcome.Divergent {
		switch policy {
		case PolicyPreferLocal:
			if d.AbsentLocal {
				delete(resolved, d.Name)
			} else {
				resolved[d.Name] = d.Local
			}
		case PolicyPreferRemote:
			if d.AbsentRemote {
				delete(resolved, d.Name)
			} else {
				resolved[d.Name] = d.Remote
			}
		}
	}
	return resolved
}
