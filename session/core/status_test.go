// ABOUTME: Tests for the run-status lifecycle table.
// ABOUTME: Verifies legal edges, sticky terminal states, and status parsing.
package core

import "testing"

func TestCanTransition(t *testing.T) {
	legal := [][2]RunStatus{
		{StatusIdle, StatusSettingUp},
		{StatusSettingUp, StatusRunning},
		{StatusSettingUp, StatusFailed},
		{StatusRunning, StatusFinished},
		{StatusRunning, StatusFailed},
		{StatusRunning, StatusIdle},
	}
	for _, e := range legal {
		if !CanTransition(e[0], e[1]) {
			t.Errorf("CanTransition(%s, %s) = false, want true", e[0], e[1])
		}
	}

	illegal := [][2]RunStatus{
		{StatusIdle, StatusRunning},
		{StatusIdle, StatusFinished},
		{StatusSettingUp, StatusIdle},
		{StatusFinished, StatusIdle},
		{StatusFinished, StatusSettingUp},
		{StatusFailed, StatusIdle},
		{StatusFailed, StatusRunning},
	}
	for _, e := range illegal {
		if CanTransition(e[0], e[1]) {
			t.Errorf("CanTransition(%s, %s) = true, want false", e[0], e[1])
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	all := []RunStatus{StatusIdle, StatusSettingUp, StatusRunning, StatusFinished, StatusFailed}
	for _, from := range []RunStatus{StatusFinished, StatusFailed} {
		if !from.Terminal() {
			t.Errorf("%s.Terminal() = false", from)
		}
		for _, to := range all {
			if CanTransition(from, to) {
				t.Errorf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestParseRunStatus(t *testing.T) {
	if s, err := ParseRunStatus(""); err != nil || s != StatusIdle {
		t.Errorf("ParseRunStatus(\"\") = %q, %v", s, err)
	}
	if s, err := ParseRunStatus("running"); err != nil || s != StatusRunning {
		t.Errorf("ParseRunStatus(running) = %q, %v", s, err)
	}
	if _, err := ParseRunStatus("paused"); err == nil {
		t.Error("expected error for unknown status")
	}
}
