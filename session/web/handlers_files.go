// ABOUTME: Working-directory file endpoints: list, tree, upload, download, zip, archive and restore.
// ABOUTME: Every path is resolved by files.Manager, which rejects traversal outside the work dir.
package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/2389-research/mdsession/files"
	"github.com/2389-research/mdsession/session/server"
)

// maxUpload bounds one uploaded file.
const maxUpload = 256 << 20

// fileManager opens the files.Manager for the session in the URL.
func (s *Server) fileManager(w http.ResponseWriter, r *http.Request) (*files.Manager, bool) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return nil, false
	}
	m, err := files.NewManager(h.Session().WorkDir)
	if err != nil {
		writeError(w, s.logger, err)
		return nil, false
	}
	return m, true
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	m, ok := s.fileManager(w, r)
	if !ok {
		return
	}
	listing, err := m.List(r.URL.Query().Get("pattern"))
	if err != nil {
		writeError(w, s.logger, fmt.Errorf("%w: %v", server.ErrInvalidRequest, err))
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleFileTree(w http.ResponseWriter, r *http.Request) {
	m, ok := s.fileManager(w, r)
	if !ok {
		return
	}
	listing, err := m.List("")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, files.GroupTree(listing.Files))
}

// handleUpload streams the multipart "file" part straight to disk.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	m, ok := s.fileManager(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, s.logger, fmt.Errorf("%w: %v", server.ErrInvalidRequest, err))
		return
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, s.logger, uploadError(err))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		name := path.Base(strings.ReplaceAll(part.FileName(), "\\", "/"))
		if name == "" || name == "." || name == "/" {
			part.Close()
			writeError(w, s.logger, fmt.Errorf("%w: upload has no file name", server.ErrInvalidRequest))
			return
		}
		saved, err := m.Upload(name, part)
		part.Close()
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		s.logger.Info("file uploaded", zap.String("action", "file_uploaded"),
			zap.String("path", saved.Path), zap.Int64("size_bytes", saved.SizeBytes))
		writeJSON(w, http.StatusOK, saved)
		return
	}
	writeError(w, s.logger, fmt.Errorf("%w: multipart field \"file\" is required", server.ErrInvalidRequest))
}

// uploadError reports a malformed multipart body as bad input while keeping
// size-limit errors recognizable.
func uploadError(err error) error {
	if statusFor(err) != http.StatusInternalServerError {
		return err
	}
	return fmt.Errorf("%w: %v", server.ErrInvalidRequest, err)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	m, ok := s.fileManager(w, r)
	if !ok {
		return
	}
	f, info, err := m.Open(r.URL.Query().Get("path"))
	if err != nil {
		if errors.Is(err, files.ErrOutsideWorkDir) {
			writeErrorMessage(w, http.StatusForbidden, err.Error())
			return
		}
		writeError(w, s.logger, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", info.Name()))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

func (s *Server) handleDownloadZip(w http.ResponseWriter, r *http.Request) {
	m, ok := s.fileManager(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "sessionID")
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))
	if err := m.WriteZip(w); err != nil {
		// Headers are gone; the truncated archive is all the client gets.
		s.logger.Warn("zip stream failed", zap.String("action", "zip_failed"),
			zap.String("work_dir", m.WorkDir()), zap.Error(err))
	}
}

func (s *Server) handleArchiveFile(w http.ResponseWriter, r *http.Request) {
	m, ok := s.fileManager(w, r)
	if !ok {
		return
	}
	archived, err := m.Archive(r.URL.Query().Get("path"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"archived_path": archived})
}

func (s *Server) handleListArchive(w http.ResponseWriter, r *http.Request) {
	m, ok := s.fileManager(w, r)
	if !ok {
		return
	}
	names, err := m.ListArchive()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": names})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	m, ok := s.fileManager(w, r)
	if !ok {
		return
	}
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	restored, err := m.Restore(body.Path)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"restored_path": restored})
}
