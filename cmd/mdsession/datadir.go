// ABOUTME: XDG-based data and config directory resolution for the mdsession CLI.
// ABOUTME: Checks XDG_DATA_HOME / XDG_CONFIG_HOME, falls back to ~/.local/share/mdsession and ~/.config/mdsession.
package main

import (
	"fmt"
	"os"
	"path/filepath"
)

const appName = "mdsession"

// configFileName is looked up in the config directory when --config is not given.
const configFileName = "mdsession.toml"

// defaultDataDir returns the server home: $XDG_DATA_HOME/mdsession or
// ~/.local/share/mdsession.
func defaultDataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", ".local", "share")
}

// defaultConfigDir returns $XDG_CONFIG_HOME/mdsession or ~/.config/mdsession.
func defaultConfigDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

func xdgDir(envKey string, fallback ...string) (string, error) {
	if xdg := os.Getenv(envKey); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	parts := append([]string{home}, fallback...)
	return filepath.Join(append(parts, appName)...), nil
}

// resolveConfigPath returns explicit when set, else the default config file
// path. The file need not exist.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	dir, err := defaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFileName), nil
}
