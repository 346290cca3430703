// ABOUTME: Tests for dotted-path config tree operations.
// ABOUTME: Includes a randomized property test that Set only ever changes the addressed leaf.
package simconfig

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSetPreservesSiblings(t *testing.T) {
	tree := map[string]any{
		"method": map[string]any{
			"hills": map[string]any{"height": 0.5, "pace": 500},
		},
		"gromacs": map[string]any{"dt": 0.002},
	}

	got, err := Set(tree, "method.hills.height", 1.5)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	want := map[string]any{
		"method": map[string]any{
			"hills": map[string]any{"height": 1.5, "pace": 500},
		},
		"gromacs": map[string]any{"dt": 0.002},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Set() mismatch (-want +got):\n%s", diff)
	}

	// Input must not be mutated.
	if h, _ := Get(tree, "method.hills.height"); h != 0.5 {
		t.Errorf("original height = %v, want 0.5", h)
	}
}

func TestSetCreatesMissingIntermediates(t *testing.T) {
	got, err := Set(map[string]any{"a": 1}, "b.c.d", "x")
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := Get(got, "b.c.d"); !ok || v != "x" {
		t.Errorf("Get(b.c.d) = %v, %v", v, ok)
	}
	if v, _ := Get(got, "a"); v != 1 {
		t.Errorf("sibling a = %v, want 1", v)
	}
}

func TestSetReplacesScalarIntermediate(t *testing.T) {
	got, err := Set(map[string]any{"a": 3}, "a.b", true)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, _ := Get(got, "a.b"); v != true {
		t.Errorf("Get(a.b) = %v, want true", v)
	}
}

func TestSetRejectsBadPaths(t *testing.T) {
	if _, err := Set(nil, "", 1); !errors.Is(err, ErrEmptyPath) {
		t.Errorf("empty path err = %v, want ErrEmptyPath", err)
	}
	if _, err := Set(nil, "a..b", 1); !errors.Is(err, ErrInvalidPath) {
		t.Errorf("a..b err = %v, want ErrInvalidPath", err)
	}
}

func TestMergeNestedAndDottedKeys(t *testing.T) {
	tree := map[string]any{
		"gromacs": map[string]any{"dt": 0.002, "nsteps": 1000},
		"method":  map[string]any{"name": "metadynamics"},
	}
	partial := map[string]any{
		"gromacs":           map[string]any{"nsteps": 5000},
		"method.hills.pace": 250,
		"system":            map[string]any{},
	}
	got, paths, err := Merge(tree, partial)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if diff := cmp.Diff([]string{"gromacs.nsteps", "method.hills.pace"}, paths); diff != "" {
		t.Errorf("paths mismatch (-want +got):\n%s", diff)
	}
	want := map[string]any{
		"gromacs": map[string]any{"dt": 0.002, "nsteps": 5000},
		"method":  map[string]any{"name": "metadynamics", "hills": map[string]any{"pace": 250}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge() mismatch (-want +got):\n%s", diff)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := map[string]any{"a": map[string]any{"b": []any{1, 2}}}
	cp := Clone(orig)
	cp["a"].(map[string]any)["b"].([]any)[0] = 99
	if orig["a"].(map[string]any)["b"].([]any)[0] != 1 {
		t.Error("Clone shares nested slice with original")
	}
}

// randomTree builds a nested tree with up to depth levels and returns it
// together with every leaf path it contains.
func randomTree(r *rand.Rand, depth int, prefix string) (map[string]any, []string) {
	tree := map[string]any{}
	var leaves []string
	n := 1 + r.Intn(4)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("k%d", r.Intn(6))
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if _, dup := tree[key]; dup {
			continue
		}
		if depth > 0 && r.Intn(2) == 0 {
			child, childLeaves := randomTree(r, depth-1, path)
			tree[key] = child
			leaves = append(leaves, childLeaves...)
			continue
		}
		tree[key] = r.Float64()
		leaves = append(leaves, path)
	}
	return tree, leaves
}

func flattenAll(tree map[string]any) map[string]any {
	out := map[string]any{}
	for _, u := range Flatten(tree) {
		out[u.Path] = u.Value
	}
	return out
}

func TestSetChangesOnlyAddressedLeaf(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		tree, leaves := randomTree(r, 4, "")
		if len(leaves) == 0 {
			continue
		}
		var path string
		if r.Intn(4) == 0 {
			// A fresh path below an existing leaf's parent.
			base := leaves[r.Intn(len(leaves))]
			if i := strings.LastIndex(base, "."); i >= 0 {
				path = base[:i] + ".fresh"
			} else {
				path = "fresh"
			}
		} else {
			path = leaves[r.Intn(len(leaves))]
		}

		before := flattenAll(Clone(tree))
		got, err := Set(tree, path, "new-value")
		if err != nil {
			t.Fatalf("Set(%q): %v", path, err)
		}
		after := flattenAll(got)

		if after[path] != "new-value" {
			t.Fatalf("iter %d: leaf %q = %v, want new-value", iter, path, after[path])
		}
		for p, v := range before {
			if p == path {
				continue
			}
			if after[p] != v {
				t.Fatalf("iter %d: Set(%q) changed sibling %q: %v -> %v", iter, path, p, v, after[p])
			}
		}
		for p := range after {
			if _, ok := before[p]; !ok && p != path {
				t.Fatalf("iter %d: Set(%q) introduced unexpected leaf %q", iter, path, p)
			}
		}
		if diff := cmp.Diff(before, flattenAll(tree)); diff != "" {
			t.Fatalf("iter %d: Set mutated its input (-before +after):\n%s", iter, diff)
		}
	}
}

func TestNumberCoercion(t *testing.T) {
	for _, v := range []any{3, int64(3), 3.0, float32(3)} {
		if n, ok := Number(v); !ok || n != 3 {
			t.Errorf("Number(%T) = %v, %v", v, n, ok)
		}
	}
	if _, ok := Number("3"); ok {
		t.Error("Number(string) should not coerce")
	}
}
