// ABOUTME: session.json manifest written at each session root for humans and external tools.
// ABOUTME: Mirrors registry metadata plus a flat run_status and an active/inactive marker.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/2389-research/mdsession/session/core"
)

// ManifestFile is the manifest name inside a session directory.
const ManifestFile = "session.json"

// Manifest is the on-disk shape of session.json.
type Manifest struct {
	core.Session
	RunStatus core.RunStatus `json:"run_status"`
	Status    string         `json:"status"`
}

// NewManifest builds a manifest for sess.
func NewManifest(sess core.Session) Manifest {
	status := "active"
	if sess.Deleted {
		status = "inactive"
	}
	return Manifest{Session: sess, RunStatus: sess.Run.Status, Status: status}
}

// WriteManifest atomically writes session.json into dir.
func WriteManifest(dir string, sess core.Session) error {
	data, err := json.MarshalIndent(NewManifest(sess), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, ManifestFile)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReadManifest loads session.json from dir.
func ReadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Session.Run.Status == "" && m.RunStatus != "" {
		m.Session.Run.Status = m.RunStatus
	}
	return m, nil
}
