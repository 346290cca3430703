// ABOUTME: The serve subcommand: loads server config, builds the app state and runs the HTTP API.
// ABOUTME: Shuts down gracefully on SIGINT/SIGTERM; running engine processes are left for reattachment.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/2389-research/mdsession/logging"
	"github.com/2389-research/mdsession/session/server"
	"github.com/2389-research/mdsession/session/web"
)

type serveOptions struct {
	bind string
	home string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long: `Run the session HTTP API.

Configuration comes from the TOML file given by --config (or mdsession.toml in
the XDG config directory) with MDSESSION_* environment variables taking
precedence. Binding a non-loopback address requires MDSESSION_ALLOW_REMOTE=true
and MDSESSION_AUTH_TOKEN.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServerConfig(root.configPath, opts)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&opts.bind, "bind", "", "listen address (overrides MDSESSION_BIND)")
	cmd.Flags().StringVar(&opts.home, "home", "", "server data directory (overrides MDSESSION_HOME)")
	return cmd
}

// loadServerConfig reads the config file and environment, then applies
// flag overrides and re-validates.
func loadServerConfig(configPath string, opts *serveOptions) (*server.Config, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}
	home, err := defaultDataDir()
	if err != nil {
		return nil, err
	}
	cfg, err := server.LoadConfig(path, home)
	if err != nil {
		return nil, err
	}
	if opts.bind != "" {
		cfg.Bind = opts.bind
	}
	if opts.home != "" {
		cfg.Home = opts.home
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runServe serves until ctx is cancelled.
func runServe(ctx context.Context, cfg *server.Config) error {
	logger, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Console: term.IsTerminal(int(os.Stderr.Fd())),
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logging.Component(logger, "cmd.serve")

	state, err := server.NewAppState(ctx, cfg, logger, server.Options{})
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	defer func() {
		if err := state.Close(); err != nil {
			log.Warn("close state", zap.String("action", "close_failed"), zap.Error(err))
		}
	}()

	srv := web.NewServer(state, cfg.Bind)
	log.Info("starting", zap.String("action", "start"), zap.String("addr", srv.Addr()),
		zap.String("home", cfg.Home), zap.Bool("auth", cfg.AuthToken != ""), zap.Bool("llm", state.LLMClient != nil))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down", zap.String("action", "shutdown"),
			zap.Int("sessions", len(state.Registry.IDs())))
		return nil
	})
	return g.Wait()
}
