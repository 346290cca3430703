// ABOUTME: Shared application state for the HTTP server: registry, supervisor, storage and the LLM client.
// ABOUTME: NewAppState wires everything from Config and recovers persisted sessions.
package server

import (
	"context"
	"fmt"

	muxllm "github.com/2389-research/mux/llm"
	"go.uber.org/zap"

	"github.com/2389-research/mdsession/agent"
	"github.com/2389-research/mdsession/session/store"
	"github.com/2389-research/mdsession/simconfig"
	"github.com/2389-research/mdsession/supervisor"
)

// AppState holds what every handler needs.
type AppState struct {
	Config         *Config
	Store          *store.StorageManager
	Registry       *Registry
	ProviderStatus ProviderStatus
	LLMClient      muxllm.Client // nil when no provider is configured
	LLMModel       string
	Logger         *zap.Logger
}

// Options overrides pieces of AppState construction, mainly for tests.
type Options struct {
	Launcher  supervisor.Launcher
	LLMClient muxllm.Client
	LLMModel  string
}

// NewAppState opens storage under cfg.Home, recovers sessions, and picks an
// LLM client from the environment unless opts provides one.
func NewAppState(ctx context.Context, cfg *Config, logger *zap.Logger, opts Options) (*AppState, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	st, err := store.NewStorageManager(cfg.Home, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	catalog, err := simconfig.DefaultCatalog()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	launcher := opts.Launcher
	if launcher == nil {
		launcher = supervisor.GromacsLauncher{Binary: cfg.EngineBin}
	}
	sup := supervisor.New(launcher, logger)
	reg := NewRegistry(st, catalog, sup, agent.NewConversations(), cfg.WorkspaceRoot(), logger)

	n, err := reg.Recover()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("recover sessions: %w", err)
	}
	logger.Info("sessions recovered", zap.String("component", "session.server"),
		zap.String("action", "recovered"), zap.Int("count", n))

	ps := DetectProviders(cfg.DefaultProvider, cfg.DefaultModel)
	state := &AppState{
		Config:         cfg,
		Store:          st,
		Registry:       reg,
		ProviderStatus: ps,
		LLMClient:      opts.LLMClient,
		LLMModel:       opts.LLMModel,
		Logger:         logger,
	}
	if state.LLMClient == nil {
		client, model, err := NewLLMClient(ctx, ps)
		if err != nil {
			logger.Warn("llm client unavailable", zap.String("component", "session.server"),
				zap.String("action", "llm_setup_failed"), zap.Error(err))
		}
		state.LLMClient, state.LLMModel = client, model
	}
	if state.LLMClient != nil {
		logger.Info("llm configured", zap.String("component", "session.server"),
			zap.String("action", "llm_ready"), zap.String("model", state.LLMModel))
	}
	return state, nil
}

// Close stops actors and closes storage.
func (s *AppState) Close() error {
	s.Registry.Close()
	return s.Store.Close()
}
