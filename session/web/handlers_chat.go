// ABOUTME: Chat endpoint that streams one agent turn as Server-Sent Events.
// ABOUTME: Run status changes and engine progress are pushed on the same stream while the turn is open.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/2389-research/mdsession/agent"
	"github.com/2389-research/mdsession/progress"
	"github.com/2389-research/mdsession/session/core"
	"github.com/2389-research/mdsession/session/server"
	"github.com/2389-research/mdsession/stream"
	"github.com/2389-research/mdsession/supervisor"
)

// handleChat runs one turn. A second turn on the same session while one is
// open gets 409. Client disconnect cancels the turn and its history is
// left untouched.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sessionHandle(w, r)
	if !ok {
		return
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if strings.TrimSpace(body.Message) == "" {
		writeError(w, s.logger, fmt.Errorf("%w: message is required", server.ErrInvalidRequest))
		return
	}
	if s.state.LLMClient == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, "no LLM provider configured")
		return
	}

	conv := s.state.Registry.Conversations().Get(h.SessionID)
	history, err := conv.Begin()
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		conv.Finish(nil)
		writeError(w, s.logger, err)
		return
	}
	turn := stream.NewTurnWriter(sse)
	logger := s.logger.With(zap.String("session_id", h.SessionID))

	runner := &agent.Runner{
		Client: s.state.LLMClient,
		Model:  s.state.LLMModel,
		System: agent.SystemPrompt(h.Session()),
		Logger: logger,
	}
	tools := agent.BuildRegistry(agent.Workspace{Handle: h, Supervisor: s.state.Registry.Supervisor()})

	g, gctx := errgroup.WithContext(r.Context())
	simCtx, stopSim := context.WithCancel(gctx)
	defer stopSim()

	g.Go(func() error {
		defer stopSim()
		res, err := runner.Run(gctx, tools, history, body.Message, turn)
		switch {
		case gctx.Err() != nil:
			conv.Finish(nil)
			logger.Info("chat turn cancelled", zap.String("action", "turn_cancelled"))
		case err != nil:
			conv.Finish(nil)
			logger.Warn("chat turn failed", zap.String("action", "turn_failed"), zap.Error(err))
		default:
			conv.Finish(res.Messages)
			logger.Info("chat turn finished", zap.String("action", "turn_finished"),
				zap.Int("history", conv.Len()))
		}
		return nil
	})
	g.Go(func() error {
		s.forwardRunStatus(simCtx, h, turn)
		return nil
	})
	if h.Run().Status.Active() {
		g.Go(func() error {
			return s.forwardProgress(simCtx, h, turn)
		})
	}
	_ = g.Wait()
}

// forwardRunStatus pushes sim_status for every run transition until ctx is
// done or the turn closes.
func (s *Server) forwardRunStatus(ctx context.Context, h *core.SessionHandle, sink stream.Sink) {
	ch := h.Subscribe()
	defer h.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != core.EventRunTransitioned || ev.Run == nil {
				continue
			}
			if err := sink.Send(stream.SimStatus(string(ev.Run.Status), ev.Run.ExitCode)); err != nil {
				return
			}
		}
	}
}

// forwardProgress tails the engine log and pushes sim_progress samples
// while the run stays active.
func (s *Server) forwardProgress(ctx context.Context, h *core.SessionHandle, sink stream.Sink) error {
	run := h.Run()
	logFile := run.LogFile
	if logFile == "" {
		logFile = supervisor.LogFile
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := progress.NewWatcher(filepath.Join(h.Session().WorkDir, logFile), s.progressInterval, s.logger)
	return w.Run(ctx, func(sample progress.Sample) {
		current := h.Run()
		if !current.Status.Active() {
			return
		}
		err := sink.Send(stream.SimProgress(sample.Step, current.ExpectedSteps, sample.NsPerDay, sample.TimePs))
		if errors.Is(err, stream.ErrTurnClosed) {
			cancel()
		}
	})
}
