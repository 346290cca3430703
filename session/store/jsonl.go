// ABOUTME: Append-only JSONL journal of session events for durable state.
// ABOUTME: Provides fsynced append, sequential replay, and repair of truncated trailing lines.
package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/2389-research/mdsession/session/core"
)

// ErrTornLine marks a final journal line without its trailing newline.
var ErrTornLine = errors.New("unterminated journal line")

// JsonlLog is an append-only journal backed by a file, one event per line.
type JsonlLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// OpenJsonl opens (or creates) a journal at path in append mode, creating
// parent directories as needed.
func OpenJsonl(path string) (*JsonlLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent dirs: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	return &JsonlLog{path: path, file: file}, nil
}

// Path returns the path to the journal file.
func (l *JsonlLog) Path() string {
	return l.path
}

// Append writes events as JSON lines and fsyncs once.
func (l *JsonlLog) Append(events ...core.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf []byte
	for i := range events {
		data, err := json.Marshal(&events[i])
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}
	if _, err := l.file.Write(buf); err != nil {
		return fmt.Errorf("write event lines: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *JsonlLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// ReplayJsonl reads every event from a journal in order. Blank lines are
// skipped; a malformed or unterminated line is an error.
func ReplayJsonl(path string) ([]core.Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = file.Close() }()

	var events []core.Event
	_, err = scanJournal(file, func(ev core.Event) { events = append(events, ev) })
	if err != nil {
		return nil, err
	}
	return events, nil
}

// RepairJsonl truncates the journal after its last complete, parseable
// line, dropping a torn tail left by a crash mid-append. It returns the
// number of events kept.
func RepairJsonl(path string) (int, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open journal for repair: %w", err)
	}
	defer func() { _ = file.Close() }()

	kept := 0
	good, scanErr := scanJournal(file, func(core.Event) { kept++ })
	if scanErr == nil {
		return kept, nil
	}
	if err := file.Truncate(good); err != nil {
		return 0, fmt.Errorf("truncate journal: %w", err)
	}
	if err := file.Sync(); err != nil {
		return 0, fmt.Errorf("fsync journal: %w", err)
	}
	return kept, nil
}

// scanJournal feeds each event to fn and returns the byte offset just past
// the last good line. It stops at the first bad line with an error.
func scanJournal(r io.Reader, fn func(core.Event)) (int64, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var offset int64
	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			if len(bytes.TrimSpace(line)) > 0 {
				return offset, fmt.Errorf("journal line %d: %w", lineNo, ErrTornLine)
			}
			return offset, nil
		}
		if err != nil {
			return offset, fmt.Errorf("read journal: %w", err)
		}
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var ev core.Event
			if err := json.Unmarshal(trimmed, &ev); err != nil {
				return offset, fmt.Errorf("journal line %d: %w", lineNo, err)
			}
			fn(ev)
		}
		offset += int64(len(line))
	}
}
