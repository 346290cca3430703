// ABOUTME: Config endpoints: read the tree, merge a partial update, and regenerate engine inputs.
// ABOUTME: Writes go through the session actor so the lock policy and validation always apply.
package web

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/session/server"
	"github.com/2389-research/mdsession/simconfig"
)

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"config": h.Config()})
}

// handleUpdateConfig accepts {"updates": {...}} where the value is a flat
// map of dotted paths, a nested partial tree, or a mix of both.
func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	var body struct {
		Updates map[string]any `json:"updates"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if len(body.Updates) == 0 {
		writeError(w, s.logger, fmt.Errorf("%w: updates must be a non-empty object", server.ErrInvalidRequest))
		return
	}

	updates := simconfig.Flatten(body.Updates)
	if _, err := h.SendCommand(core.UpdateConfigCommand{Updates: updates}); err != nil {
		writeError(w, s.logger, err)
		return
	}
	cfg := h.Config()
	if err := simconfig.WriteConfig(h.Session().WorkDir, cfg); err != nil {
		writeError(w, s.logger, err)
		return
	}

	paths := make([]string, len(updates))
	for i, u := range updates {
		paths[i] = u.Path
	}
	s.logger.Info("config updated", zap.String("action", "config_updated"),
		zap.String("session_id", h.SessionID), zap.Strings("paths", paths))
	writeJSON(w, http.StatusOK, map[string]any{"updated": true, "paths": paths, "config": cfg})
}

// handleGenerateFiles rewrites config.yaml and the engine inputs. It is
// refused while a run is outstanding so in-flight inputs stay intact.
func (s *Server) handleGenerateFiles(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	sess := h.Session()
	if sess.Run.Status != core.StatusIdle {
		writeError(w, s.logger, fmt.Errorf("%w: cannot regenerate inputs while %s", simconfig.ErrLocked, sess.Run.Status))
		return
	}
	generated, err := simconfig.Generate(sess.WorkDir, h.Config())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Info("inputs generated", zap.String("action", "files_generated"),
		zap.String("session_id", sess.ID), zap.Strings("files", generated))
	writeJSON(w, http.StatusOK, map[string]any{"generated": generated, "work_dir": sess.WorkDir})
}
