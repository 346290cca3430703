// ABOUTME: Root cobra command and persistent flags shared by the client subcommands.
// ABOUTME: Resolves the server URL and token from flags or MDSESSION_URL / MDSESSION_AUTH_TOKEN.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/2389-research/mdsession/client"
	"github.com/2389-research/mdsession/logging"
)

const defaultServerURL = "http://127.0.0.1:7780"

// rootOptions holds the persistent flags.
type rootOptions struct {
	serverURL  string
	token      string
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mdsession",
		Short: "Manage molecular dynamics simulation sessions",
		Long: `mdsession runs and drives a session server for molecular dynamics simulations.

Each session owns a working directory, a configuration tree and at most one
engine process. Use "mdsession serve" to start the server, then the other
commands to create sessions, start runs and follow their progress.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.serverURL, "server", envOrDefault("MDSESSION_URL", defaultServerURL), "session server URL")
	cmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("MDSESSION_AUTH_TOKEN"), "bearer token for the session server")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "server config file (default: $XDG_CONFIG_HOME/mdsession/mdsession.toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "client log level: debug, info, warn, error")

	cmd.AddCommand(
		newServeCmd(opts),
		newSessionsCmd(opts),
		newStartCmd(opts),
		newStopCmd(opts),
		newStatusCmd(opts),
		newWatchCmd(opts),
		newProgressCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// client returns an API client for the configured server.
func (o *rootOptions) client() *client.Client {
	return client.New(o.serverURL, o.token)
}

// logger returns a console logger for client-side commands.
func (o *rootOptions) logger() (*zap.Logger, error) {
	return logging.New(logging.Options{Level: o.logLevel, Console: true})
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mdsession version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mdsession %s\n", version)
		},
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
