// ABOUTME: Session registry endpoints: create, list, rename, select artifact and delete.
// ABOUTME: Handlers translate JSON bodies into Registry calls and map errors to status codes.
package web

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/session/server"
	"github.com/2389-research/mdsession/session/store"
)

// sessionHandle resolves the {sessionID} URL parameter, writing a 404 when
// the session is unknown.
func (s *Server) sessionHandle(w http.ResponseWriter, r *http.Request) (*core.SessionHandle, bool) {
	h, err := s.state.Registry.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, s.logger, err)
		return nil, false
	}
	return h, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req server.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	created, err := s.state.Registry.Create(req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.state.Registry.List(strings.TrimSpace(r.URL.Query().Get("owner")))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if rows == nil {
		rows = []store.SessionRow{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": rows})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.state.Registry.Delete(chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Nickname string `json:"nickname"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	sess, err := s.state.Registry.Rename(chi.URLParam(r, "sessionID"), body.Nickname)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID, "nickname": sess.Nickname})
}

func (s *Server) handleSelectArtifact(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	sess, err := s.state.Registry.SetSelectedArtifact(chi.URLParam(r, "sessionID"), strings.TrimSpace(body.Name))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
