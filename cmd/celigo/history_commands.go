package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"celigo/internal/runs"
)

const historyTimeLayout = "2006-01-02 15:04:05"

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var workUnit string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			list, err := store.ListRecent(cmd.Context(), limit, strings.TrimSpace(workUnit))
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderRunTable(list))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	cmd.Flags().StringVarP(&workUnit, "work-unit", "w", "", "Only list runs of this work unit")

	cmd.AddCommand(newHistoryShowCommand(ctx))
	cmd.AddCommand(newHistoryResetCommand(ctx))
	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its stage attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(args[0]), 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.Get(cmd.Context(), id)
			if errors.Is(err, runs.ErrNotFound) {
				return fmt.Errorf("run %d not found", id)
			}
			if err != nil {
				return fmt.Errorf("load run %d: %w", id, err)
			}
			stages, err := store.Stages(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("load stages of run %d: %w", id, err)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader(fmt.Sprintf("Run %d", run.ID), colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Work unit", statusInfo, run.WorkUnitID, colorize))
			fmt.Fprintln(out, renderStatusLine("Status", runStatusKind(run.Status), string(run.Status), colorize))
			fmt.Fprintln(out, renderStatusLine("Profile", statusInfo, run.Profile, colorize))
			fmt.Fprintln(out, renderStatusLine("Input", statusInfo, run.InputPath, colorize))
			fmt.Fprintln(out, renderStatusLine("Workspace", statusInfo, run.Workspace, colorize))
			fmt.Fprintln(out, renderStatusLine("Correlation ID", statusInfo, run.CorrelationID, colorize))
			fmt.Fprintln(out, renderStatusLine("Started", statusInfo, run.StartedAt.Local().Format(historyTimeLayout), colorize))
			if run.FinishedAt != nil {
				fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(run.Duration()), colorize))
			}
			if run.FailedStage != "" {
				fmt.Fprintln(out, renderStatusLine("Failed stage", statusError, run.FailedStage, colorize))
			}
			if run.ErrorKind != "" {
				fmt.Fprintln(out, renderStatusLine("Error kind", statusError, run.ErrorKind, colorize))
			}
			if run.ErrorMessage != "" {
				fmt.Fprintln(out, renderStatusLine("Error", statusError, run.ErrorMessage, colorize))
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderStageTable(stages))
			return nil
		},
	}
}

func newHistoryResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-interrupted",
		Short: "Mark runs left running by a killed process as failed",
		Long: `Mark every run still recorded as running as failed.

Only use this when no celigo run is in progress: a live run's record would be
overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.ResetInterrupted(cmd.Context(), time.Now())
			if err != nil {
				return fmt.Errorf("reset interrupted runs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d interrupted run(s)\n", n)
			return nil
		},
	}
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than --days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			cutoff := time.Now().AddDate(0, 0, -days)
			n, err := store.PruneBefore(cmd.Context(), cutoff)
			if err != nil {
				return fmt.Errorf("prune runs: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d run(s) started before %s\n", n, cutoff.Format("2006-01-02"))
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 90, "Keep runs started within this many days")
	return cmd
}

func renderRunTable(list []*runs.Run) string {
	columns := []column{numCol("ID"), col("Work unit"), col("Profile"), col("Status"), col("Failed stage"), col("Started"), numCol("Duration")}
	rows := make([][]string, 0, len(list))
	for _, run := range list {
		rows = append(rows, []string{
			strconv.FormatInt(run.ID, 10),
			run.WorkUnitID,
			run.Profile,
			string(run.Status),
			dashIfEmpty(run.FailedStage),
			run.StartedAt.Local().Format(historyTimeLayout),
			formatDuration(run.Duration()),
		})
	}
	return renderTable(columns, rows, "No runs recorded.")
}

func renderStageTable(stages []runs.StageResult) string {
	columns := []column{col("Stage"), numCol("Attempt"), col("Job"), col("State"), numCol("Ticks"), col("Output")}
	rows := make([][]string, 0, len(stages))
	for _, s := range stages {
		rows = append(rows, []string{
			s.Stage,
			strconv.Itoa(s.Attempt),
			dashIfEmpty(s.JobID),
			s.State,
			strconv.Itoa(s.Ticks),
			dashIfEmpty(s.OutputPath),
		})
	}
	return renderTable(columns, rows, "No stages were submitted.")
}
