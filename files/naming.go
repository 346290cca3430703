// ABOUTME: Naming grammar for coordinate files derived from a root structure by the preparation pipeline.
// ABOUTME: Pure functions map roots to derived names, recover roots, and group listings into trees.
package files

import (
	"path"
	"sort"
	"strings"
)

// DerivedExt is the extension every derived coordinate file carries.
const DerivedExt = ".gro"

// DerivedSuffixes are the pipeline stages in production order.
var DerivedSuffixes = []string{"_system", "_box", "_solvated", "_ionized"}

var coordExts = map[string]bool{".pdb": true, ".gro": true}

// IsCoordinate reports whether name has a coordinate file extension.
func IsCoordinate(name string) bool {
	return coordExts[strings.ToLower(path.Ext(name))]
}

// stem strips the directory and extension from name.
func stem(name string) string {
	base := path.Base(filepathToSlash(name))
	return strings.TrimSuffix(base, path.Ext(base))
}

func filepathToSlash(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}

// DerivedNames returns the derived file names expected for root, in
// pipeline order. The directory of root is preserved.
func DerivedNames(root string) []string {
	slashed := filepathToSlash(root)
	dir := path.Dir(slashed)
	s := stem(slashed)
	out := make([]string, 0, len(DerivedSuffixes))
	for _, suffix := range DerivedSuffixes {
		name := s + suffix + DerivedExt
		if dir != "." {
			name = path.Join(dir, name)
		}
		out = append(out, name)
	}
	return out
}

// IsDerived reports whether name is a pipeline intermediate, either
// "<stem>_<stage>.gro" or a bare "<stage>.gro".
func IsDerived(name string) bool {
	_, _, ok := splitDerived(name)
	return ok
}

// SourceRoot recovers the root stem from a derived name. The stem has no
// extension because the root may be .pdb or .gro.
func SourceRoot(name string) (string, bool) {
	root, _, ok := splitDerived(name)
	if !ok || root == "" {
		return "", false
	}
	return root, true
}

// splitDerived returns the root stem and stage suffix of a derived name.
func splitDerived(name string) (string, string, bool) {
	base := path.Base(filepathToSlash(name))
	lower := strings.ToLower(base)
	if !strings.HasSuffix(lower, DerivedExt) {
		return "", "", false
	}
	body := base[:len(base)-len(DerivedExt)]
	lowerBody := lower[:len(lower)-len(DerivedExt)]
	for _, suffix := range DerivedSuffixes {
		if lowerBody == strings.TrimPrefix(suffix, "_") {
			return "", suffix, true
		}
		if strings.HasSuffix(lowerBody, suffix) {
			return body[:len(body)-len(suffix)], suffix, true
		}
	}
	return "", "", false
}

// Group is one root with whichever derived files are present. Root is empty
// when only derived files of that stem exist.
type Group struct {
	Stem    string   `json:"stem"`
	Root    string   `json:"root,omitempty"`
	Derived []string `json:"derived"`
}

// Tree groups a file listing into root/derived chains. Other holds every
// file that is neither a root coordinate nor a derived intermediate.
type Tree struct {
	Roots []Group  `json:"roots"`
	Other []string `json:"other"`
}

// GroupTree groups files into trees. Any subset of a chain may be missing.
func GroupTree(files []string) Tree {
	groups := map[string]*Group{}
	key := func(name, s string) string {
		dir := path.Dir(filepathToSlash(name))
		return dir + "/" + s
	}
	get := func(k, s string) *Group {
		g, ok := groups[k]
		if !ok {
			g = &Group{Stem: s, Derived: []string{}}
			groups[k] = g
		}
		return g
	}

	tree := Tree{Roots: []Group{}, Other: []string{}}
	var derived []string
	for _, f := range files {
		switch {
		case IsDerived(f):
			derived = append(derived, f)
		case IsCoordinate(f):
			s := stem(f)
			g := get(key(f, s), s)
			// A .pdb beats a .gro of the same stem as the canonical root.
			if g.Root == "" || strings.EqualFold(path.Ext(f), ".pdb") {
				if g.Root != "" {
					tree.Other = append(tree.Other, g.Root)
				}
				g.Root = f
			} else {
				tree.Other = append(tree.Other, f)
			}
		default:
			tree.Other = append(tree.Other, f)
		}
	}

	for _, f := range derived {
		root, _, _ := splitDerived(f)
		if root == "" {
			tree.Other = append(tree.Other, f)
			continue
		}
		g := get(key(f, root), root)
		g.Derived = append(g.Derived, f)
	}

	for _, g := range groups {
		sort.SliceStable(g.Derived, func(i, j int) bool {
			return stageIndex(g.Derived[i]) < stageIndex(g.Derived[j])
		})
		tree.Roots = append(tree.Roots, *g)
	}
	sort.Slice(tree.Roots, func(i, j int) bool {
		return groupName(tree.Roots[i]) < groupName(tree.Roots[j])
	})
	sort.Strings(tree.Other)
	return tree
}

func groupName(g Group) string {
	if g.Root != "" {
		return g.Root
	}
	if len(g.Derived) > 0 {
		return g.Derived[0]
	}
	return g.Stem
}

func stageIndex(name string) int {
	_, suffix, _ := splitDerived(name)
	for i, s := range DerivedSuffixes {
		if s == suffix {
			return i
		}
	}
	return len(DerivedSuffixes)
}

// FindSourceCoord picks the user-provided coordinate file among names.
// A preferred non-derived name wins if present. A preferred derived name is
// traced back to its root, taking .pdb over .gro. Otherwise the first
// non-derived coordinate file in sorted order is returned.
func FindSourceCoord(names []string, preferred string) (string, bool) {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	if preferred != "" {
		pref := path.Base(filepathToSlash(preferred))
		if !IsDerived(pref) {
			if present[pref] {
				return pref, true
			}
		} else if root, ok := SourceRoot(pref); ok {
			for _, ext := range []string{".pdb", ".gro"} {
				if present[root+ext] {
					return root + ext, true
				}
			}
		}
	}

	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	for _, n := range sorted {
		if IsCoordinate(n) && !IsDerived(n) {
			return n, true
		}
	}
	return "", false
}
