// ABOUTME: Loads KEY=VALUE pairs from .env files into the process environment at startup.
// ABOUTME: Existing variables always win; files are searched from the working directory upward and the config dir.
package main

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// parseDotEnv reads KEY=VALUE lines. Blank lines and # comments are
// skipped, an "export " prefix is dropped and matching quotes are stripped.
func parseDotEnv(r io.Reader) (map[string]string, error) {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			first, last := value[0], value[len(value)-1]
			if (first == '"' || first == '\'') && first == last {
				value = value[1 : len(value)-1]
			}
		}
		vars[key] = value
	}
	return vars, scanner.Err()
}

// loadDotEnv applies the file at path without overwriting variables that
// are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	vars, err := parseDotEnv(f)
	if err != nil {
		return err
	}
	for k, v := range vars {
		if _, exists := os.LookupEnv(k); !exists {
			if err := os.Setenv(k, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadDotEnvAuto loads, in order: .env in the working directory and each
// parent, then .env in the mdsession config directory. Earlier files win.
func loadDotEnvAuto() {
	seen := map[string]bool{}
	load := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		_ = loadDotEnv(p)
	}

	if wd, err := os.Getwd(); err == nil {
		dir := wd
		for {
			load(filepath.Join(dir, ".env"))
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if dir, err := defaultConfigDir(); err == nil {
		load(filepath.Join(dir, ".env"))
	}
}
