// ABOUTME: Storage manager for the mdsession home directory: journals, manifests, and the registry index.
// ABOUTME: Implements core.Persister and rebuilds every session's state from disk on startup.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/simconfig"
)

// JournalFile is the per-session event journal name.
const JournalFile = "events.jsonl"

// StorageManager owns the on-disk layout:
//
//	home/index.db
//	home/sessions/{id}/session.json
//	home/sessions/{id}/events.jsonl
type StorageManager struct {
	home   string
	index  *SqliteIndex
	logger *zap.Logger

	mu       sync.Mutex
	journals map[string]*JsonlLog
}

// NewStorageManager creates the layout under home and opens the index.
func NewStorageManager(home string, logger *zap.Logger) (*StorageManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Join(home, "sessions"), 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	idx, err := OpenSqlite(filepath.Join(home, "index.db"))
	if err != nil {
		return nil, err
	}
	return &StorageManager{
		home:     home,
		index:    idx,
		logger:   logger.With(zap.String("component", "session.store")),
		journals: make(map[string]*JsonlLog),
	}, nil
}

// Home returns the home directory.
func (m *StorageManager) Home() string {
	return m.home
}

// Index returns the registry index.
func (m *StorageManager) Index() *SqliteIndex {
	return m.index
}

// SessionDir returns the directory holding a session's manifest and journal.
func (m *StorageManager) SessionDir(id string) string {
	return filepath.Join(m.home, "sessions", id)
}

func (m *StorageManager) journal(id string) (*JsonlLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.journals[id]; ok {
		return j, nil
	}
	j, err := OpenJsonl(filepath.Join(m.SessionDir(id), JournalFile))
	if err != nil {
		return nil, err
	}
	m.journals[id] = j
	return j, nil
}

// Persist appends events to the session journal, rewrites its manifest, and
// updates the index. Deleted sessions leave the index but keep their files.
func (m *StorageManager) Persist(state *core.SessionState, events []core.Event) error {
	sess := state.Session
	j, err := m.journal(sess.ID)
	if err != nil {
		return err
	}
	if err := j.Append(events...); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	if err := WriteManifest(m.SessionDir(sess.ID), sess); err != nil {
		return err
	}
	if sess.Deleted {
		if err := m.index.DeleteSession(sess.ID); err != nil {
			return err
		}
		m.closeJournal(sess.ID)
		return nil
	}
	return m.index.UpsertSession(&sess)
}

func (m *StorageManager) closeJournal(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.journals[id]; ok {
		_ = j.Close()
		delete(m.journals, id)
	}
}

// RecoverSession rebuilds one session's state from its directory. The
// journal is repaired first so a torn trailing line never blocks startup.
// Sessions with only a manifest are rebuilt from it plus config.yaml.
func RecoverSession(dir string) (*core.SessionState, error) {
	journalPath := filepath.Join(dir, JournalFile)
	if _, err := os.Stat(journalPath); err == nil {
		if _, err := RepairJsonl(journalPath); err != nil {
			return nil, fmt.Errorf("repair journal: %w", err)
		}
		events, err := ReplayJsonl(journalPath)
		if err != nil {
			return nil, fmt.Errorf("replay journal: %w", err)
		}
		if len(events) > 0 {
			state := core.NewSessionState()
			for i := range events {
				state.Apply(&events[i])
			}
			return state, nil
		}
	}

	manifest, err := ReadManifest(dir)
	if err != nil {
		return nil, err
	}
	state := core.NewSessionState()
	state.Session = manifest.Session
	if manifest.Status == "inactive" {
		state.Session.Deleted = true
	}
	if tree, err := simconfig.LoadYAML(filepath.Join(manifest.WorkDir, simconfig.ConfigFile)); err == nil {
		state.Config = tree
	}
	return state, nil
}

// RecoverAll rebuilds every session under home/sessions, skips deleted
// ones, and rebuilds the index from the survivors. Unrecoverable
// directories are logged and skipped.
func (m *StorageManager) RecoverAll() ([]*core.SessionState, error) {
	root := filepath.Join(m.home, "sessions")
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var states []*core.SessionState
	var live []core.Session
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !core.ValidSessionID(name) {
			m.logger.Debug("skip non-session dir", zap.String("action", "recover_skip"), zap.String("dir", name))
			continue
		}
		state, err := RecoverSession(filepath.Join(root, name))
		if err != nil {
			m.logger.Warn("recover session failed", zap.String("action", "recover_failed"),
				zap.String("session_id", name), zap.Error(err))
			continue
		}
		if state.Session.Deleted {
			continue
		}
		if state.Session.ID == "" {
			state.Session.ID = name
		}
		m.logger.Info("recovered session", zap.String("action", "recovered"),
			zap.String("session_id", name), zap.String("run_status", string(state.Session.Run.Status)))
		states = append(states, state)
		live = append(live, state.Session)
	}

	if err := m.index.Rebuild(live); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return states, nil
}

// Close closes open journals and the index.
func (m *StorageManager) Close() error {
	m.mu.Lock()
	for id, j := range m.journals {
		_ = j.Close()
		delete(m.journals, id)
	}
	m.mu.Unlock()
	return m.index.Close()
}
