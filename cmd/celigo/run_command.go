package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"celigo/internal/config"
	"celigo/internal/logging"
	"celigo/internal/observability"
	"celigo/internal/pipeline"
	"celigo/internal/preflight"
	"celigo/internal/publish"
	"celigo/internal/scheduler"
)

type runOptions struct {
	profile       string
	keepWorkspace bool
	skipPreflight bool
	metricsAddr   string
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <image>...",
		Short: "Run plate images through a stage profile",
		Long: `Run each raw Celigo image through the configured stage profile.

Every image becomes a work unit with its own workspace. Stages are submitted
to SLURM in order and each is polled until its output appears, it fails, or
its tick budget runs out. Work units run concurrently up to
pipeline.max_concurrent_runs; one failing does not stop the others.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkUnits(cmd, ctx, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "Stage profile (defaults to pipeline.profile)")
	cmd.Flags().BoolVar(&opts.keepWorkspace, "keep-workspace", false, "Keep workspaces on disk after successful runs")
	cmd.Flags().BoolVar(&opts.skipPreflight, "skip-preflight", false, "Skip scheduler, storage, and database checks")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	return cmd
}

func runWorkUnits(cmd *cobra.Command, ctx *commandContext, opts runOptions, args []string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	runCtx := cmd.Context()
	if runCtx == nil {
		runCtx = context.Background()
	}
	logging.PruneLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, time.Now())

	if !opts.skipPreflight {
		if failed := preflight.Failed(preflight.RunAll(runCtx, cfg)); len(failed) > 0 {
			names := make([]string, 0, len(failed))
			for _, r := range failed {
				names = append(names, fmt.Sprintf("%s (%s)", r.Name, r.Detail))
			}
			return fmt.Errorf("preflight failed: %s; run celigo doctor for details", strings.Join(names, ", "))
		}
	}

	inputs, err := resolveInputs(args)
	if err != nil {
		return err
	}
	profile, err := ctx.profile(opts.profile)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	store, err := ctx.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	driverOpts := []pipeline.Option{
		pipeline.WithStore(store),
		pipeline.WithLogger(logger),
		pipeline.WithRetainWorkspace(opts.keepWorkspace),
	}

	publisher, closePublisher, err := buildPublisher(runCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()
	if publisher != nil {
		driverOpts = append(driverOpts, pipeline.WithPublisher(publisher))
	}

	addr := strings.TrimSpace(opts.metricsAddr)
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		metrics, stop, err := startMetrics(runCtx, addr, logger)
		if err != nil {
			return err
		}
		defer stop()
		driverOpts = append(driverOpts, pipeline.WithMetrics(metrics))
	}

	driver, err := pipeline.NewDriver(cfg, profile, sched, driverOpts...)
	if err != nil {
		return err
	}

	results, runErr := driver.RunAll(runCtx, inputs)
	fmt.Fprintln(cmd.OutOrStdout(), renderResults(results))

	incomplete := 0
	for _, res := range results {
		if !res.Succeeded() {
			incomplete++
		}
	}
	switch {
	case incomplete > 0 && runErr != nil:
		return fmt.Errorf("%d of %d work units did not complete: %w", incomplete, len(results), runErr)
	case incomplete > 0:
		return fmt.Errorf("%d of %d work units did not complete", incomplete, len(results))
	}
	return nil
}

func resolveInputs(args []string) ([]string, error) {
	inputs := make([]string, 0, len(args))
	for _, arg := range args {
		path, err := config.ExpandPath(strings.TrimSpace(arg))
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", arg, err)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", arg, err)
		}
		if !info.Mode().IsRegular() {
			return nil, fmt.Errorf("input %q is not a regular file", arg)
		}
		inputs = append(inputs, filepath.Clean(path))
	}
	return inputs, nil
}

// buildPublisher wires the enabled backends. It returns a nil publisher when
// neither storage nor the results database is configured.
func buildPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (publish.Publisher, func(), error) {
	noop := func() {}
	if !cfg.StorageEnabled() && !cfg.DatabaseEnabled() {
		return nil, noop, nil
	}

	var store publish.ArtifactStore
	if cfg.StorageEnabled() {
		s3, err := publish.NewS3Store(cfg.Storage)
		if err != nil {
			return nil, noop, fmt.Errorf("artifact storage: %w", err)
		}
		store = s3
	}

	var db publish.ResultDB
	closeDB := noop
	if cfg.DatabaseEnabled() {
		pg, err := publish.OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, noop, fmt.Errorf("results database: %w", err)
		}
		db = pg
		closeDB = pg.Close
	}
	return publish.NewService(store, db, logger), closeDB, nil
}

func startMetrics(ctx context.Context, addr string, logger *slog.Logger) (*observability.Metrics, func(), error) {
	metrics, handler, err := observability.NewMetrics(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = metrics.Shutdown(ctx)
		return nil, nil, fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.WarnWithContext(logger, "metrics server stopped", "metrics_server_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "run metrics are no longer scraped"),
			)
		}
	}()
	logger.Info("metrics endpoint listening", logging.String("addr", listener.Addr().String()))

	stop := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = metrics.Shutdown(shutdownCtx)
	}
	return metrics, stop, nil
}

func renderResults(results []pipeline.WorkUnitResult) string {
	columns := []column{col("Work unit"), col("Status"), col("Failed stage"), numCol("Duration"), col("Workspace")}
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		id := res.WorkUnitID
		if id == "" {
			id = filepath.Base(res.InputPath)
		}
		workspace := "-"
		if res.Retained {
			workspace = res.Workspace
		}
		rows = append(rows, []string{
			id,
			string(res.Status),
			dashIfEmpty(res.FailedStage),
			formatDuration(res.Duration()),
			workspace,
		})
	}
	return renderTable(columns, rows, "No work units ran.")
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
