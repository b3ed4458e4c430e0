package syncer

import (
	"reflect"
	"testing"
)

func TestMergeBothChangedSameField(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	local := map[string]any{"a": 1, "b": 3}
	remote := map[string]any{"a": 1, "b": 4}

	out := Merge(base, local, remote)
	if out.Clean() {
		t.Fatal("expected a divergent field, got clean merge")
	}
	if len(out.Divergent) != 1 || out.Divergent[0].Name != "b" {
		t.Fatalf("expected divergence on b only, got %+v", out.Divergent)
	}
	d := out.Divergent[0]
	if d.Base != 2 || d.Local != 3 || d.Remote != 4 {
		t.Errorf("divergent field values = %v/%v/%v, want 2/3/4", d.Base, d.Local, d.Remote)
	}
	if !valueEqual(out.Merged["a"], 1) {
		t.Errorf("untouched field a = %v, want 1", out.Merged["a"])
	}
}

func TestMergeOneSidedChanges(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2, "c": 3}

	t.Run("local only", func(t *testing.T) {
		local := map[string]any{"a": 9, "b": 2, "c": 3}
		out := Merge(base, local, base)
		if !out.Clean() {
			t.Fatalf("unexpected divergence: %+v", out.Divergent)
		}
		if !valueEqual(out.Merged["a"], 9) {
			t.Errorf("merged a = %v, want 9", out.Merged["a"])
		}
	})

	t.Run("remote only", func(t *testing.T) {
		remote := map[string]any{"a": 1, "b": 7, "c": 3}
		out := Merge(base, base, remote)
		if !out.Clean() {
			t.Fatalf("unexpected divergence: %+v", out.Divergent)
		}
		if !valueEqual(out.Merged["b"], 7) {
			t.Errorf("merged b = %v, want 7", out.Merged["b"])
		}
	})

	t.Run("disjoint changes combine", func(t *testing.T) {
		local := map[string]any{"a": 9, "b": 2, "c": 3}
		remote := map[string]any{"a": 1, "b": 7, "c": 3}
		out := Merge(base, local, remote)
		if !out.Clean() {
			t.Fatalf("unexpected divergence: %+v", out.Divergent)
		}
		want := map[string]any{"a": 9, "b": 7, "c": 3}
		if !reflect.DeepEqual(out.Merged, want) {
			t.Errorf("merged = %v, want %v", out.Merged, want)
		}
	})
}

func TestMergeDeletions(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}

	t.Run("one-sided delete wins", func(t *testing.T) {
		local := map[string]any{"a": 1}
		out := Merge(base, local, base)
		if !out.Clean() {
			t.Fatalf("unexpected divergence: %+v", out.Divergent)
		}
		if _, ok := out.Merged["b"]; ok {
			t.Error("deleted field b survived the merge")
		}
	})

	t.Run("delete vs modify conflicts", func(t *testing.T) {
		local := map[string]any{"a": 1} // deleted b
		remote := map[string]any{"a": 1, "b": 5}
		out := Merge(base, local, remote)
		if out.Clean() {
			t.Fatal("delete-vs-modify must not auto-resolve")
		}
		d := out.Divergent[0]
		if d.Name != "b" || !d.AbsentLocal || d.AbsentRemote {
			t.Errorf("unexpected divergence shape: %+v", d)
		}
	})

	t.Run("both deleted agrees", func(t *testing.T) {
		local := map[string]any{"a": 1}
		out := Merge(base, local, map[string]any{"a": 1})
		if !out.Clean() {
			t.Fatalf("unexpected divergence: %+v", out.Divergent)
		}
	})
}

func TestMergeIndependentAdds(t *testing.T) {
	base := map[string]any{}

	t.Run("same value agrees", func(t *testing.T) {
		out := Merge(base, map[string]any{"x": "v"}, map[string]any{"x": "v"})
		if !out.Clean() {
			t.Fatalf("unexpected divergence: %+v", out.Divergent)
		}
	})

	t.Run("different values conflict", func(t *testing.T) {
		out := Merge(base, map[string]any{"x": "l"}, map[string]any{"x": "r"})
		if out.Clean() {
			t.Fatal("independent adds with different values must conflict")
		}
		if !out.Divergent[0].AbsentBase {
			t.Error("AbsentBase should be set for an independently added field")
		}
	})
}

func TestMergeNilBase(t *testing.T) {
	// No recorded base: identical payloads are still clean.
	p := map[string]any{"a": 1, "b": "x"}
	out := Merge(nil, p, p)
	if !out.Clean() {
		t.Fatalf("identical payloads with nil base diverged: %+v", out.Divergent)
	}
}

func TestValueEqualNumericRoundTrip(t *testing.T) {
	// A payload written as int comes back float64 after a JSON round trip
	// through a backend; that must not register as a change.
	if !valueEqual(1, float64(1)) {
		t.Error("int 1 and float64 1 should compare equal")
	}
	if valueEqual(1, float64(1.5)) {
		t.Error("1 and 1.5 should not compare equal")
	}
	if !valueEqual(
		map[string]any{"n": 3, "s": []any{"a"}},
		map[string]any{"n": float64(3), "s": []any{"a"}},
	) {
		t.Error("nested payloads differing only in numeric type should compare equal")
	}
}

func TestResolveDivergent(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	local := map[string]any{"a": 1, "b": 3}
	remote := map[string]any{"a": 1, "b": 4}
	out := Merge(base, local, remote)

	got := resolveDivergent(out, PolicyPreferLocal)
	if !valueEqual(got["b"], 3) {
		t.Errorf("prefer_local b = %v, want 3", got["b"])
	}

	got = resolveDivergent(out, PolicyPreferRemote)
	if !valueEqual(got["b"], 4) {
		t.Errorf("prefer_remote b = %v, want 4", got["b"])
	}
}

func TestResolveDivergentDeletion(t *testing.T) {
	base := map[string]any{"a": 1, "b": 2}
	local := map[string]any{"a": 1} // deleted b
	remote := map[string]any{"a": 1, "b": 5}
	out := Merge(base, local, remote)

	got := resolveDivergent(out, PolicyPreferLocal)
	if _, ok := got["b"]; ok {
		t.Error("prefer_local should honor the local deletion of b")
	}

	got = resolveDivergent(out, PolicyPreferRemote)
	if !valueEqual(got["b"], 5) {
		t.Errorf("prefer_remote b = %v, want 5", got["b"])
	}
}
