// ABOUTME: Nested configuration tree operations addressed by dot-separated paths.
// ABOUTME: Set rebuilds only the maps along the path so every sibling key survives untouched.
package simconfig

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrEmptyPath indicates a dotted path with no segments.
	ErrEmptyPath = errors.New("config path is empty")

	// ErrInvalidPath indicates a dotted path with an empty segment (e.g. "a..b").
	ErrInvalidPath = errors.New("config path has an empty segment")
)

// Update is a single leaf assignment produced by flattening a partial tree.
type Update struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// SplitPath splits a dotted path into its segments.
func SplitPath(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}

// Clone returns a deep copy of a tree. Nested maps and slices are copied;
// scalars are shared.
func Clone(tree map[string]any) map[string]any {
	if tree == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		cp := make([]any, len(x))
		for i := range x {
			cp[i] = cloneValue(x[i])
		}
		return cp
	default:
		return v
	}
}

// Get returns the value at the dotted path.
func Get(tree map[string]any, path string) (any, bool) {
	parts, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	var cur any = tree
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set returns a new tree with the leaf at path replaced by value. The input
// tree is not modified. Maps along the path are shallow-copied so siblings at
// every ancestor level are carried forward; a scalar sitting where an
// intermediate map is needed is replaced by a fresh map.
func Set(tree map[string]any, path string, value any) (map[string]any, error) {
	parts, err := SplitPath(path)
	if err != nil {
		return nil, err
	}
	return setParts(tree, parts, value), nil
}

func setParts(node map[string]any, parts []string, value any) map[string]any {
	out := make(map[string]any, len(node)+1)
	for k, v := range node {
		out[k] = v
	}
	key := parts[0]
	if len(parts) == 1 {
		out[key] = value
		return out
	}
	child, _ := node[key].(map[string]any)
	out[key] = setParts(child, parts[1:], value)
	return out
}

// Flatten converts a partial nested tree into leaf updates sorted by path.
// Keys may themselves contain dots. Empty nested maps contribute nothing.
func Flatten(partial map[string]any) []Update {
	var updates []Update
	flattenInto(&updates, "", partial)
	sort.Slice(updates, func(i, j int) bool { return updates[i].Path < updates[j].Path })
	return updates
}

func flattenInto(dst *[]Update, prefix string, node map[string]any) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			flattenInto(dst, path, m)
			continue
		}
		*dst = append(*dst, Update{Path: path, Value: v})
	}
}

// Merge deep-merges a partial tree into tree by applying each flattened leaf
// with Set. Returns the merged tree and the paths that were written.
func Merge(tree map[string]any, partial map[string]any) (map[string]any, []string, error) {
	out := tree
	if out == nil {
		out = map[string]any{}
	}
	updates := Flatten(partial)
	paths := make([]string, 0, len(updates))
	for _, u := range updates {
		next, err := Set(out, u.Path, u.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("merge %s: %w", u.Path, err)
		}
		out = next
		paths = append(paths, u.Path)
	}
	return out, paths, nil
}

// Number coerces a tree value to float64. YAML decodes integers as int while
// JSON decodes every number as float64, so callers go through this helper.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}

// Lookup returns a string or number at path formatted for engine input files.
func Lookup(tree map[string]any, path string) (string, bool) {
	v, ok := Get(tree, path)
	if !ok || v == nil {
		return "", false
	}
	return formatScalar(v), true
}

// LookupNumber returns the numeric value at path.
func LookupNumber(tree map[string]any, path string) (float64, bool) {
	v, ok := Get(tree, path)
	if !ok {
		return 0, false
	}
	return Number(v)
}
