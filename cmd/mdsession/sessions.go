// ABOUTME: Session management subcommands: list, create, rename and delete, plus run start and stop.
// ABOUTME: All talk to a running server through the HTTP client.
package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/2389-research/mdsession/client"
)

func newSessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List, create, rename and delete sessions",
	}
	cmd.AddCommand(
		newSessionsListCmd(root),
		newSessionsCreateCmd(root),
		newSessionsRenameCmd(root),
		newSessionsDeleteCmd(root),
	)
	return cmd
}

func newSessionsListCmd(root *rootOptions) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List sessions",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := root.client().ListSessions(cmd.Context(), owner)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNICKNAME\tSTATUS\tUPDATED\tWORK DIR")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					s.SessionID, s.Nickname, s.RunStatus, s.UpdatedAt.Local().Format("2006-01-02 15:04"), s.WorkDir)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only list sessions for this owner")
	return cmd
}

func newSessionsCreateCmd(root *rootOptions) *cobra.Command {
	var req client.CreateRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a session and seed its working directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			created, err := root.client().CreateSession(cmd.Context(), req)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created session %s\n", created.SessionID)
			fmt.Fprintf(out, "  work dir: %s\n", created.WorkDir)
			if created.Nickname != "" {
				fmt.Fprintf(out, "  nickname: %s\n", created.Nickname)
			}
			for _, f := range created.SeededFiles {
				fmt.Fprintf(out, "  seeded:   %s\n", f)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Nickname, "nickname", "", "display name")
	f.StringVar(&req.Owner, "owner", "", "owner recorded in the session index")
	f.StringVar(&req.Preset, "preset", "", "config preset: undefined, md, metad, umbrella")
	f.StringVar(&req.System, "system", "", "molecular system to seed")
	f.StringVar(&req.EngineTemplate, "engine-template", "", "engine parameter template")
	f.StringVar(&req.WorkDirTemplate, "work-dir", "", "working directory template; {session_id} is replaced")
	return cmd
}

func newSessionsRenameCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <nickname>",
		Short: "Set a session's nickname",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.client().Rename(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s to %q\n", args[0], args[1])
			return nil
		},
	}
}

func newSessionsDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <session-id>",
		Aliases: []string{"rm"},
		Short:   "Stop any run and delete a session",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.client().DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}

func newStartCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "start <session-id>",
		Short: "Start the session's simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			started, err := root.client().Start(cmd.Context(), args[0])
			if client.IsConflict(err) {
				return fmt.Errorf("session %s already has a run in progress: %w", args[0], err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Started %s (pid %d, %s)\n", args[0], started.PID, started.Status)
			return nil
		},
	}
}

func newStopCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <session-id>",
		Short: "Stop the session's running simulation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stopped, err := root.client().Stop(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if stopped {
				fmt.Fprintf(cmd.OutOrStdout(), "Stopped %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not running\n", args[0])
			}
			return nil
		},
	}
}
