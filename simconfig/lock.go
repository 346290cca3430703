// ABOUTME: Write-lock policy for configuration edits while a simulation is active.
// ABOUTME: The advanced subgroup stays readable but is write-protected exactly like the main groups.
package simconfig

import (
	"errors"
	"fmt"
	"strings"
)

// AdvancedGroup is the path segment naming the advanced subsection.
const AdvancedGroup = "advanced"

// ErrLocked indicates a config write was attempted while the session is not idle.
var ErrLocked = errors.New("config is locked while a run is active")

// Policy decides whether config paths may be written.
type Policy struct {
	Locked bool
}

// IsAdvanced reports whether path addresses the advanced subsection at any depth.
func IsAdvanced(path string) bool {
	for _, seg := range strings.Split(path, ".") {
		if seg == AdvancedGroup {
			return true
		}
	}
	return false
}

// Check returns ErrLocked (wrapped with the path's group) when the policy
// forbids writing path.
func (p Policy) Check(path string) error {
	if !p.Locked {
		return nil
	}
	group := "main"
	if IsAdvanced(path) {
		group = AdvancedGroup
	}
	return fmt.Errorf("%w: %s (%s group)", ErrLocked, path, group)
}

// CheckAll validates every path, returning the first violation.
func (p Policy) CheckAll(paths []string) error {
	for _, path := range paths {
		if err := p.Check(path); err != nil {
			return err
		}
	}
	return nil
}
