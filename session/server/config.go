// ABOUTME: Server configuration from an optional TOML file overlaid with MDSESSION_* environment variables.
// ABOUTME: Enforces the security constraint that remote access requires an auth token.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

var (
	ErrRemoteWithoutToken = errors.New(
		"MDSESSION_ALLOW_REMOTE is true but MDSESSION_AUTH_TOKEN is not set; refusing to start without authentication",
	)
	ErrNonLoopbackBind = errors.New(
		"MDSESSION_BIND is a non-loopback address but MDSESSION_ALLOW_REMOTE is not true; set MDSESSION_ALLOW_REMOTE=true and MDSESSION_AUTH_TOKEN to allow remote access",
	)
)

// DefaultBind is the loopback address the server listens on by default.
const DefaultBind = "127.0.0.1:7780"

// Config holds server configuration.
type Config struct {
	Home            string `toml:"home"`             // MDSESSION_HOME
	Bind            string `toml:"bind"`             // MDSESSION_BIND
	AllowRemote     bool   `toml:"allow_remote"`     // MDSESSION_ALLOW_REMOTE
	AuthToken       string `toml:"auth_token"`       // MDSESSION_AUTH_TOKEN
	DefaultProvider string `toml:"default_provider"` // MDSESSION_DEFAULT_PROVIDER
	DefaultModel    string `toml:"default_model"`    // MDSESSION_DEFAULT_MODEL
	EngineBin       string `toml:"engine_bin"`       // MDSESSION_ENGINE_BIN
	LogLevel        string `toml:"log_level"`        // MDSESSION_LOG_LEVEL
	// Workspaces is the root that work_dir_template values resolve under.
	Workspaces string `toml:"workspaces"` // MDSESSION_WORKSPACES
}

// WorkspaceRoot returns Workspaces, defaulting to home/workspaces.
func (c *Config) WorkspaceRoot() string {
	if c.Workspaces != "" {
		return c.Workspaces
	}
	return filepath.Join(c.Home, "workspaces")
}

// LoadConfig reads path (when non-empty and present), applies environment
// overrides and validates the result. defaultHome is used when neither
// source sets a home directory.
func LoadConfig(path, defaultHome string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(cfg)

	if cfg.Home == "" {
		cfg.Home = defaultHome
	}
	if cfg.Home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		cfg.Home = filepath.Join(homeDir, ".local", "share", "mdsession")
	}
	if cfg.Bind == "" {
		cfg.Bind = DefaultBind
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.EngineBin == "" {
		cfg.EngineBin = "gmx"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ConfigFromEnv loads configuration from the environment only.
func ConfigFromEnv() (*Config, error) {
	return LoadConfig("", "")
}

func applyEnv(cfg *Config) {
	cfg.Home = envOrDefault("MDSESSION_HOME", cfg.Home)
	cfg.Bind = envOrDefault("MDSESSION_BIND", cfg.Bind)
	if v, ok := os.LookupEnv("MDSESSION_ALLOW_REMOTE"); ok && v != "" {
		cfg.AllowRemote = v == "true" || v == "1" || v == "yes"
	}
	cfg.AuthToken = envOrDefault("MDSESSION_AUTH_TOKEN", cfg.AuthToken)
	cfg.DefaultProvider = envOrDefault("MDSESSION_DEFAULT_PROVIDER", cfg.DefaultProvider)
	cfg.DefaultModel = envOrDefault("MDSESSION_DEFAULT_MODEL", cfg.DefaultModel)
	cfg.EngineBin = envOrDefault("MDSESSION_ENGINE_BIN", cfg.EngineBin)
	cfg.LogLevel = envOrDefault("MDSESSION_LOG_LEVEL", cfg.LogLevel)
	cfg.Workspaces = envOrDefault("MDSESSION_WORKSPACES", cfg.Workspaces)
}

// Validate applies the remote-access rules.
func (c *Config) Validate() error {
	// Security: remote access requires auth token
	if c.AllowRemote && c.AuthToken == "" {
		return ErrRemoteWithoutToken
	}

	// Only 127.0.0.0/8, ::1 and "localhost" count as loopback.
	if !c.AllowRemote {
		if host, _, err := net.SplitHostPort(c.Bind); err == nil && host != "" {
			ip := net.ParseIP(host)
			switch {
			case ip != nil && ip.IsLoopback():
			case ip != nil:
				return fmt.Errorf("%w: MDSESSION_BIND=%s", ErrNonLoopbackBind, c.Bind)
			case host == "localhost":
			default:
				return fmt.Errorf("%w: MDSESSION_BIND=%s", ErrNonLoopbackBind, c.Bind)
			}
		}
	}
	return nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
