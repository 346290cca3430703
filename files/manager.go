// ABOUTME: File lifecycle manager for a session working directory.
// ABOUTME: Lists, uploads, opens, archives and restores files, rejecting paths that escape the tree.
package files

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ArchiveDir is the subtree that holds archived files.
const ArchiveDir = "archive"

var (
	// ErrNotFound is returned when a path does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrOutsideWorkDir is returned when a path escapes the working directory.
	ErrOutsideWorkDir = errors.New("path outside session work directory")
	// ErrDestinationExists is returned when a move would overwrite a file.
	ErrDestinationExists = errors.New("destination already exists")
	// ErrArchivedPath is returned when a normal operation targets the archive subtree.
	ErrArchivedPath = errors.New("path is inside the archive")
)

// Manager operates on one working directory.
type Manager struct {
	workDir string
}

// Listing is the result of List.
type Listing struct {
	Files   []string `json:"files"`
	WorkDir string   `json:"work_dir"`
}

// Saved describes an uploaded file.
type Saved struct {
	Path      string `json:"saved_path"`
	SizeBytes int64  `json:"size_bytes"`
}

// NewManager returns a manager rooted at workDir.
func NewManager(workDir string) (*Manager, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	return &Manager{workDir: abs}, nil
}

// WorkDir returns the absolute working directory.
func (m *Manager) WorkDir() string {
	return m.workDir
}

// rel converts a user path into a clean slash-separated path relative to
// base. Absolute paths must already lie under base.
func rel(base, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	var candidate string
	if filepath.IsAbs(p) {
		candidate = filepath.Clean(p)
	} else {
		candidate = filepath.Join(base, p)
	}
	r, err := filepath.Rel(base, candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkDir, p)
	}
	if r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkDir, p)
	}
	return filepath.ToSlash(r), nil
}

func isArchived(r string) bool {
	return r == ArchiveDir || strings.HasPrefix(r, ArchiveDir+"/")
}

// isBackup reports whether name is an engine backup such as "#md.log.1#".
func isBackup(name string) bool {
	return strings.HasPrefix(name, "#")
}

func (m *Manager) abs(r string) string {
	return filepath.Join(m.workDir, filepath.FromSlash(r))
}

// List returns every non-archived file whose base name matches pattern.
// An empty pattern matches everything. Paths are relative and sorted.
func (m *Manager) List(pattern string) (Listing, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return Listing{}, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}
	files := []string{}
	err := filepath.WalkDir(m.workDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == m.workDir {
				return fs.SkipAll
			}
			return err
		}
		if p == m.workDir {
			return nil
		}
		r, _ := filepath.Rel(m.workDir, p)
		r = filepath.ToSlash(r)
		if d.IsDir() {
			if r == ArchiveDir {
				return fs.SkipDir
			}
			return nil
		}
		if isBackup(d.Name()) {
			return nil
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			files = append(files, r)
		}
		return nil
	})
	if err != nil {
		return Listing{}, fmt.Errorf("list %s: %w", m.workDir, err)
	}
	sort.Strings(files)
	return Listing{Files: files, WorkDir: m.workDir}, nil
}

// Archive moves path to archive/<path>. It never overwrites an archived copy.
func (m *Manager) Archive(p string) (string, error) {
	r, err := rel(m.workDir, p)
	if err != nil {
		return "", err
	}
	if isArchived(r) {
		return "", fmt.Errorf("%w: %s", ErrArchivedPath, r)
	}
	if _, err := os.Lstat(m.abs(r)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, r)
		}
		return "", err
	}
	dest := ArchiveDir + "/" + r
	if err := m.move(r, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// ArchiveVersioned archives p like Archive. When archive/<p> is taken the
// copy goes to archive/<p>.1, archive/<p>.2 and so on.
func (m *Manager) ArchiveVersioned(p string) (string, error) {
	dest, err := m.Archive(p)
	if !errors.Is(err, ErrDestinationExists) {
		return dest, err
	}
	r, err := rel(m.workDir, p)
	if err != nil {
		return "", err
	}
	for n := 1; ; n++ {
		dest = fmt.Sprintf("%s/%s.%d", ArchiveDir, r, n)
		err := m.move(r, dest)
		if err == nil {
			return dest, nil
		}
		if !errors.Is(err, ErrDestinationExists) {
			return "", err
		}
	}
}

// ListArchive returns archived files as paths relative to the archive root,
// i.e. the paths they will be restored to.
func (m *Manager) ListArchive() ([]string, error) {
	root := filepath.Join(m.workDir, ArchiveDir)
	files := []string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		r, _ := filepath.Rel(root, p)
		files = append(files, filepath.ToSlash(r))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Restore moves an archived file back to its original path. p may be the
// original path or carry the archive/ prefix. An existing file at the
// destination is never overwritten.
func (m *Manager) Restore(p string) (string, error) {
	r, err := rel(m.workDir, p)
	if err != nil {
		return "", err
	}
	r = strings.TrimPrefix(r, ArchiveDir+"/")
	if r == ArchiveDir {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	src := ArchiveDir + "/" + r
	if _, err := os.Lstat(m.abs(src)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return "", err
	}
	if err := m.move(src, r); err != nil {
		return "", err
	}
	m.pruneEmpty(filepath.Dir(m.abs(src)), filepath.Join(m.workDir, ArchiveDir))
	return r, nil
}

// move renames src to dest, both relative, refusing to overwrite.
func (m *Manager) move(src, dest string) error {
	destAbs := m.abs(dest)
	if _, err := os.Lstat(destAbs); err == nil {
		return fmt.Errorf("%w: %s", ErrDestinationExists, dest)
	}
	if err := os.MkdirAll(filepath.Dir(destAbs), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.Rename(m.abs(src), destAbs); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dest, err)
	}
	return nil
}

// pruneEmpty removes empty directories from dir up to, but not including, stop.
func (m *Manager) pruneEmpty(dir, stop string) {
	for dir != stop && strings.HasPrefix(dir, stop) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// Upload writes r to name under the working directory, replacing any
// existing file atomically. Uploads into the archive are refused.
func (m *Manager) Upload(name string, r io.Reader) (Saved, error) {
	rp, err := rel(m.workDir, name)
	if err != nil {
		return Saved{}, err
	}
	if isArchived(rp) {
		return Saved{}, fmt.Errorf("%w: %s", ErrArchivedPath, rp)
	}
	dest := m.abs(rp)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return Saved{}, fmt.Errorf("create parent dirs: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return Saved{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return Saved{}, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return Saved{}, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return Saved{}, fmt.Errorf("chmod upload: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return Saved{}, fmt.Errorf("rename upload: %w", err)
	}
	return Saved{Path: rp, SizeBytes: n}, nil
}

// Open opens a regular file for download. The caller closes it.
func (m *Manager) Open(p string) (*os.File, fs.FileInfo, error) {
	r, err := rel(m.workDir, p)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(m.abs(r))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, r)
		}
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, r)
	}
	return f, info, nil
}

// WriteZip writes every listed file into a zip archive on w.
func (m *Manager) WriteZip(w io.Writer) error {
	listing, err := m.List("")
	if err != nil {
		return err
	}
	zw := zip.NewWriter(w)
	for _, r := range listing.Files {
		if err := m.addToZip(zw, r); err != nil {
			zw.Close()
			return err
		}
	}
	return zw.Close()
}

func (m *Manager) addToZip(zw *zip.Writer, r string) error {
	f, err := os.Open(m.abs(r))
	if err != nil {
		return fmt.Errorf("open %s: %w", r, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = r
	hdr.Method = zip.Deflate
	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", r, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("zip %s: %w", r, err)
	}
	return nil
}

// SourceCoord returns the user-provided coordinate file at the top of the
// working directory, honoring preferred as described in FindSourceCoord.
func (m *Manager) SourceCoord(preferred string) (string, bool) {
	entries, err := os.ReadDir(m.workDir)
	if err != nil {
		return "", false
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return FindSourceCoord(names, preferred)
}
