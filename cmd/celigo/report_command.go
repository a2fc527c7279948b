package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"celigo/internal/notifications"
	"celigo/internal/runs"
)

const reportDateLayout = "2006-01-02"

func newReportCommand(ctx *commandContext) *cobra.Command {
	var date string
	var send bool

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize one day's runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseReportDate(date, time.Now())
			if err != nil {
				return err
			}
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			summary, err := store.DailySummary(cmd.Context(), day)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatSummary(summary))

			if !send {
				return nil
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			notifier := notifications.NewService(cfg)
			if err := notifier.NotifyDailyReport(cmd.Context(), notifications.Report{
				Day:      summary.Day,
				Total:    summary.Total,
				Complete: summary.Complete,
				Failed:   summary.Failed,
				Timeout:  summary.Timeout,
			}); err != nil {
				return fmt.Errorf("send report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Report sent")
			return nil
		},
	}
	cmd.Flags().StringVarP(&date, "date", "d", "", "Day to report on (YYYY-MM-DD, defaults to today)")
	cmd.Flags().BoolVar(&send, "send", false, "Send the report through the configured notification transports")
	return cmd
}

func parseReportDate(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return now, nil
	}
	day, err := time.ParseInLocation(reportDateLayout, value, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --date %q: want YYYY-MM-DD", value)
	}
	return day, nil
}

func formatSummary(s runs.Summary) string {
	return fmt.Sprintf("Runs on %s: %d total, %d complete, %d failed, %d timed out, %d running",
		s.Day.Format(reportDateLayout), s.Total, s.Complete, s.Failed, s.Timeout, s.Running)
}
