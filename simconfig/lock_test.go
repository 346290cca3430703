// ABOUTME: Tests for the config write-lock policy.
// ABOUTME: Covers main and advanced groups in both locked and unlocked states.
package simconfig

import (
	"errors"
	"strings"
	"testing"
)

func TestPolicyUnlockedAllowsEverything(t *testing.T) {
	p := Policy{}
	if err := p.CheckAll([]string{"gromacs.dt", "gromacs.advanced.nstlog"}); err != nil {
		t.Fatalf("unlocked CheckAll: %v", err)
	}
}

func TestPolicyLockedRejectsMainAndAdvanced(t *testing.T) {
	p := Policy{Locked: true}

	err := p.Check("gromacs.dt")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("main group err = %v, want ErrLocked", err)
	}
	if !strings.Contains(err.Error(), "main group") {
		t.Errorf("error %q should name the main group", err)
	}

	err = p.Check("gromacs.advanced.tau_t")
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("advanced err = %v, want ErrLocked", err)
	}
	if !strings.Contains(err.Error(), "advanced group") {
		t.Errorf("error %q should name the advanced group", err)
	}
}

func TestIsAdvanced(t *testing.T) {
	if !IsAdvanced("advanced.x") || !IsAdvanced("gromacs.advanced.nstlog") {
		t.Error("expected advanced paths to be detected")
	}
	if IsAdvanced("gromacs.advancedish") {
		t.Error("segment match must be exact")
	}
}
