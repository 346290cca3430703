// ABOUTME: SQLite-backed registry index for fast session listing without replaying journals.
// ABOUTME: Always rebuildable from per-session journals; a queryable cache, not the source of truth.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/2389-research/mdsession/session/core"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// SessionRow is a row from the sessions table, matching the list API's shape.
type SessionRow struct {
	SessionID        string `json:"session_id"`
	Owner            string `json:"owner"`
	Nickname         string `json:"nickname"`
	WorkDir          string `json:"work_dir"`
	RunStatus        string `json:"run_status"`
	SelectedArtifact string `json:"selected_artifact"`
	CreatedAt        string `json:"created_at"`
	UpdatedAt        string `json:"updated_at"`
}

// SqliteIndex mirrors session metadata for list queries.
type SqliteIndex struct {
	db *sql.DB
}

// OpenSqlite opens or creates the index database at path and ensures the schema.
func OpenSqlite(path string) (*SqliteIndex, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps WAL mode simple and avoids SQLITE_BUSY under concurrent actors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			owner TEXT NOT NULL,
			nickname TEXT NOT NULL,
			work_dir TEXT NOT NULL,
			run_status TEXT NOT NULL,
			selected_artifact TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS sessions_owner_updated
			ON sessions (owner, updated_at DESC);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SqliteIndex{db: db}, nil
}

// Close closes the database connection.
func (idx *SqliteIndex) Close() error {
	return idx.db.Close()
}

// UpsertSession inserts or updates the row for sess.
func (idx *SqliteIndex) UpsertSession(sess *core.Session) error {
	_, err := idx.db.Exec(
		`INSERT INTO sessions (session_id, owner, nickname, work_dir, run_status, selected_artifact, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			owner = excluded.owner,
			nickname = excluded.nickname,
			work_dir = excluded.work_dir,
			run_status = excluded.run_status,
			selected_artifact = excluded.selected_artifact,
			updated_at = excluded.updated_at`,
		sess.ID,
		sess.Owner,
		sess.Nickname,
		sess.WorkDir,
		string(sess.Run.Status),
		sess.SelectedArtifact,
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// DeleteSession removes the row for id. Missing rows are not an error.
func (idx *SqliteIndex) DeleteSession(id string) error {
	if _, err := idx.db.Exec("DELETE FROM sessions WHERE session_id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// GetSession returns the row for id, or a SessionNotFoundError.
func (idx *SqliteIndex) GetSession(id string) (SessionRow, error) {
	var r SessionRow
	err := idx.db.QueryRow(
		`SELECT session_id, owner, nickname, work_dir, run_status, selected_artifact, created_at, updated_at
		 FROM sessions WHERE session_id = ?`, id).
		Scan(&r.SessionID, &r.Owner, &r.Nickname, &r.WorkDir, &r.RunStatus, &r.SelectedArtifact, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRow{}, &core.SessionNotFoundError{ID: id}
	}
	if err != nil {
		return SessionRow{}, fmt.Errorf("query session: %w", err)
	}
	return r, nil
}

// ListSessions returns sessions for owner (all owners when empty), most
// recently updated first.
func (idx *SqliteIndex) ListSessions(owner string) ([]SessionRow, error) {
	query := `SELECT session_id, owner, nickname, work_dir, run_status, selected_artifact, created_at, updated_at
		FROM sessions`
	var args []any
	if owner != "" {
		query += " WHERE owner = ?"
		args = append(args, owner)
	}
	query += " ORDER BY updated_at DESC, session_id ASC"

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := []SessionRow{}
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.SessionID, &r.Owner, &r.Nickname, &r.WorkDir, &r.RunStatus,
			&r.SelectedArtifact, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, r)
	}
	return sessions, rows.Err()
}

// Rebuild clears the table and reinserts every live session.
func (idx *SqliteIndex) Rebuild(sessions []core.Session) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rebuild: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear sessions: %w", err)
	}
	stmt, err := tx.Prepare(
		`INSERT INTO sessions (session_id, owner, nickname, work_dir, run_status, selected_artifact, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare rebuild insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range sessions {
		s := &sessions[i]
		if s.Deleted {
			continue
		}
		if _, err := stmt.Exec(s.ID, s.Owner, s.Nickname, s.WorkDir, string(s.Run.Status),
			s.SelectedArtifact, formatTime(s.CreatedAt), formatTime(s.UpdatedAt)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert session %s during rebuild: %w", s.ID, err)
		}
	}
	return tx.Commit()
}

// formatTime renders UTC millisecond timestamps so lexical order is time order.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
