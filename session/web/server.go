// ABOUTME: HTTP JSON API for simulation sessions behind a single chi router.
// ABOUTME: Sessions, simulation control, config, files, chat streaming and health live here.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/2389-research/mdsession/progress"
	"github.com/2389-research/mdsession/session/server"
)

// Server serves the API for one AppState.
type Server struct {
	state  *server.AppState
	router chi.Router
	addr   string
	logger *zap.Logger

	progressInterval time.Duration
}

// NewServer builds the router. addr defaults to the configured bind address.
func NewServer(state *server.AppState, addr string) *Server {
	if addr == "" {
		addr = state.Config.Bind
	}
	logger := state.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		state:            state,
		addr:             addr,
		logger:           logger.With(zap.String("component", "web")),
		progressInterval: progress.DefaultInterval,
	}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP delegates to the chi router, satisfying http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("action", "listen"), zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// buildRouter constructs the chi router with all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	if token := s.state.Config.AuthToken; token != "" {
		r.Use(server.RequireToken(token))
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config/options", s.handleConfigOptions)

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.handleListSessions)
			r.Post("/", s.handleCreateSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteSession)
				r.Patch("/nickname", s.handleRename)
				r.Patch("/artifact", s.handleSelectArtifact)

				r.Post("/simulate", s.handleStartSimulation)
				r.Post("/simulate/stop", s.handleStopSimulation)
				r.Get("/simulate/status", s.handleSimulationStatus)
				r.Get("/simulate/progress", s.handleSimulationProgress)
				r.Get("/analysis/colvar", s.handleColvar)
				r.Get("/analysis/fes", s.handleFES)

				r.Get("/config", s.handleGetConfig)
				r.Post("/config", s.handleUpdateConfig)
				r.Post("/generate-files", s.handleGenerateFiles)

				r.Get("/files", s.handleListFiles)
				r.Delete("/files", s.handleArchiveFile)
				r.Get("/files/tree", s.handleFileTree)
				r.With(withDeadlines(s.logger, uploadTimeout, uploadTimeout)).Post("/files/upload", s.handleUpload)
				r.With(withDeadlines(s.logger, 0, 0)).Get("/files/download", s.handleDownload)
				r.With(withDeadlines(s.logger, 0, 0)).Get("/files/zip", s.handleDownloadZip)
				r.Get("/files/archive", s.handleListArchive)
				r.Post("/files/restore", s.handleRestore)

				// A turn runs until agent_done, error or client disconnect.
				r.With(withDeadlines(s.logger, 0, 0)).Post("/chat", s.handleChat)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.state.ProviderStatus,
		"sessions":  len(s.state.Registry.IDs()),
		"llm_ready": s.state.LLMClient != nil,
	})
}

func (s *Server) handleConfigOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state.Registry.Catalog().Options())
}
