// ABOUTME: Simulation control endpoints: start, stop, status poll and progress read.
// ABOUTME: Start is the single-writer guard; a second concurrent start gets 409.
package web

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/2389-research/mdsession/files"
	"github.com/2389-research/mdsession/progress"
	"github.com/2389-research/mdsession/reconcile"
	"github.com/2389-research/mdsession/supervisor"
)

func (s *Server) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	res, err := s.state.Registry.Supervisor().Start(h)
	if errors.Is(err, supervisor.ErrSpawnFailed) {
		// The run is recorded as failed; report it the way status would.
		run := h.Run()
		s.logger.Warn("start failed", zap.String("action", "start_failed"),
			zap.String("session_id", h.SessionID), zap.Error(err))
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   err.Error(),
			"status":  run.Status,
			"message": run.Message,
		})
		return
	}
	if err != nil {
		s.logger.Info("start refused", zap.String("action", "start_refused"),
			zap.String("session_id", h.SessionID), zap.Error(err))
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleStopSimulation(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	stopped, err := s.state.Registry.Supervisor().Stop(h)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleSimulationStatus(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	run, err := s.state.Registry.Supervisor().Poll(h)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, reconcile.Status{
		Running:       run.Status.Active(),
		Status:        run.Status,
		PID:           run.PID,
		ExitCode:      run.ExitCode,
		Message:       run.Message,
		ExpectedSteps: run.ExpectedSteps,
	})
}

// handleSimulationProgress never fails on an unreadable log; it reports
// {available:false} instead.
func (s *Server) handleSimulationProgress(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	sess := h.Session()
	logPath := r.URL.Query().Get("log")
	if logPath == "" {
		logPath = sess.Run.LogFile
	}
	if logPath == "" {
		logPath = supervisor.LogFile
	}
	if !filepath.IsLocal(logPath) {
		writeError(w, s.logger, fmt.Errorf("%w: %s", files.ErrOutsideWorkDir, logPath))
		return
	}
	writeJSON(w, http.StatusOK, progress.Read(filepath.Join(sess.WorkDir, logPath)))
}
