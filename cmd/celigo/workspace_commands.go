package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"celigo/internal/workspace"
)

func newWorkspaceCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage work unit workspaces",
	}
	cmd.AddCommand(newWorkspaceCleanCommand(ctx))
	return cmd
}

func newWorkspaceCleanCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove stale workspaces left by retained or crashed runs",
		Long: `Remove celigo workspaces that have not been modified for --max-age.

Directories celigo did not create and workspaces locked by a live run are
never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			age := maxAge
			if age <= 0 {
				age = time.Duration(cfg.Workspace.StaleAfterHours) * time.Hour
			}

			mgr := workspace.New(cfg, logger)
			result := mgr.CleanStale(cmd.Context(), age, time.Now())

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, path := range result.Removed {
				fmt.Fprintln(out, renderStatusLine("Removed", statusOK, path, colorize))
			}
			for _, path := range result.Skipped {
				fmt.Fprintln(out, renderStatusLine("Skipped", statusInfo, path, colorize))
			}
			for _, e := range result.Errors {
				fmt.Fprintln(out, renderStatusLine("Failed", statusError, fmt.Sprintf("%s: %v", e.Path, e.Error), colorize))
			}
			fmt.Fprintf(out, "Removed %d stale workspace(s) older than %s\n", len(result.Removed), age)
			if len(result.Errors) > 0 {
				return fmt.Errorf("%d workspace(s) could not be removed", len(result.Errors))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "Minimum idle time before removal (defaults to workspace.stale_after_hours)")
	return cmd
}
