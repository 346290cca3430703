// ABOUTME: Tests for the derived coordinate naming grammar.
// ABOUTME: Covers derived names, root recovery, tree grouping with gaps, and source discovery.
package files

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDerivedNames(t *testing.T) {
	got := DerivedNames("prep/ala2.pdb")
	want := []string{"prep/ala2_system.gro", "prep/ala2_box.gro", "prep/ala2_solvated.gro", "prep/ala2_ionized.gro"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("DerivedNames mismatch (-want +got):\n%s", diff)
	}
	if got := DerivedNames("lys.gro")[0]; got != "lys_system.gro" {
		t.Errorf("DerivedNames(lys.gro)[0] = %q", got)
	}
}

func TestSourceRoot(t *testing.T) {
	tests := []struct {
		name string
		want string
		ok   bool
	}{
		{"ala2_box.gro", "ala2", true},
		{"my_protein_ionized.GRO", "my_protein", true},
		{"sub/x_solvated.gro", "x", true},
		{"box.gro", "", false},
		{"ala2.pdb", "", false},
		{"ala2_box.pdb", "", false},
	}
	for _, tt := range tests {
		got, ok := SourceRoot(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SourceRoot(%q) = %q, %v, want %q, %v", tt.name, got, ok, tt.want, tt.ok)
		}
	}
	if !IsDerived("box.gro") {
		t.Error("bare stage name should be derived")
	}
}

func TestGroupTreeToleratesMissingStages(t *testing.T) {
	files := []string{
		"ala2.pdb",
		"ala2_ionized.gro",
		"ala2_system.gro",
		"config.yaml",
		"orphan_box.gro",
		"simulation/md.log",
	}
	got := GroupTree(files)
	want := Tree{
		Roots: []Group{
			{Stem: "ala2", Root: "ala2.pdb", Derived: []string{"ala2_system.gro", "ala2_ionized.gro"}},
			{Stem: "orphan", Derived: []string{"orphan_box.gro"}},
		},
		Other: []string{"config.yaml", "simulation/md.log"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GroupTree mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupTreePrefersPDBRoot(t *testing.T) {
	got := GroupTree([]string{"x.gro", "x.pdb", "x_box.gro"})
	if len(got.Roots) != 1 || got.Roots[0].Root != "x.pdb" {
		t.Fatalf("roots = %+v", got.Roots)
	}
	if diff := cmp.Diff([]string{"x.gro"}, got.Other); diff != "" {
		t.Errorf("other mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupTreeEmpty(t *testing.T) {
	got := GroupTree(nil)
	if got.Roots == nil || got.Other == nil || len(got.Roots)+len(got.Other) != 0 {
		t.Errorf("GroupTree(nil) = %+v", got)
	}
}

func TestFindSourceCoord(t *testing.T) {
	names := []string{"ala2.gro", "ala2.pdb", "ala2_box.gro", "box.gro", "notes.txt"}
	tests := []struct {
		preferred string
		want      string
	}{
		{"", "ala2.gro"},
		{"ala2.pdb", "ala2.pdb"},
		{"ala2_box.gro", "ala2.pdb"},
		{"missing.pdb", "ala2.gro"},
	}
	for _, tt := range tests {
		got, ok := FindSourceCoord(names, tt.preferred)
		if !ok || got != tt.want {
			t.Errorf("FindSourceCoord(%q) = %q, %v, want %q", tt.preferred, got, ok, tt.want)
		}
	}
	if _, ok := FindSourceCoord([]string{"box.gro", "x_system.gro"}, ""); ok {
		t.Error("only derived files should yield no source")
	}
}
