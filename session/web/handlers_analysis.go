// ABOUTME: Plot-ready reads of PLUMED outputs: COLVAR columns and the sum_hills free energy surface.
// ABOUTME: A missing file answers {available:false}; paths outside the work dir answer 404.
package web

import (
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/2389-research/mdsession/analysis"
	"github.com/2389-research/mdsession/files"
)

// analysisPath resolves the filename query parameter inside the session's
// work dir. It writes the error response itself.
func (s *Server) analysisPath(w http.ResponseWriter, r *http.Request, workDir, fallback string) (string, bool) {
	name := r.URL.Query().Get("filename")
	if name == "" {
		name = fallback
	}
	if !filepath.IsLocal(name) {
		writeError(w, s.logger, fmt.Errorf("%w: %s", files.ErrOutsideWorkDir, name))
		return "", false
	}
	return filepath.Join(workDir, name), true
}

func (s *Server) handleColvar(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	path, ok := s.analysisPath(w, r, h.Session().WorkDir, analysis.DefaultColvarFile)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analysis.ReadColvar(path))
}

func (s *Server) handleFES(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	path, ok := s.analysisPath(w, r, h.Session().WorkDir, analysis.DefaultFESFile)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, analysis.ReadFES(path))
}
