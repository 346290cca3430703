// ABOUTME: Tests for XDG-based data and config directory resolution used by the mdsession CLI.
// ABOUTME: Covers XDG overrides, home-directory fallbacks and the default config file path.
package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultDataDirUsesXDGDataHome(t *testing.T) {
	customDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", customDir)

	got, err := defaultDataDir()
	if err != nil {
		t.Fatalf("defaultDataDir failed: %v", err)
	}
	if want := filepath.Join(customDir, "mdsession"); got != want {
		t.Errorf("defaultDataDir() = %q, want %q", got, want)
	}
}

func TestDefaultDataDirFallsBackToHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")

	got, err := defaultDataDir()
	if err != nil {
		t.Fatalf("defaultDataDir failed: %v", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir failed: %v", err)
	}
	if want := filepath.Join(home, ".local", "share", "mdsession"); got != want {
		t.Errorf("defaultDataDir() = %q, want %q", got, want)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("defaultDataDir() returned relative path: %q", got)
	}
}

func TestDefaultConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "")
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("UserHomeDir failed: %v", err)
	}
	got, err := defaultConfigDir()
	if err != nil {
		t.Fatalf("defaultConfigDir failed: %v", err)
	}
	if want := filepath.Join(home, ".config", "mdsession"); got != want {
		t.Errorf("defaultConfigDir() = %q, want %q", got, want)
	}

	customDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customDir)
	got, err = defaultConfigDir()
	if err != nil {
		t.Fatalf("defaultConfigDir failed: %v", err)
	}
	if want := filepath.Join(customDir, "mdsession"); got != want {
		t.Errorf("defaultConfigDir() = %q, want %q", got, want)
	}
}

func TestResolveConfigPath(t *testing.T) {
	customDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", customDir)

	got, err := resolveConfigPath("")
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(customDir, "mdsession", "mdsession.toml"); got != want {
		t.Errorf("resolveConfigPath(\"\") = %q, want %q", got, want)
	}
	if got, _ := resolveConfigPath("/etc/md.toml"); got != "/etc/md.toml" {
		t.Errorf("explicit path = %q", got)
	}
}
