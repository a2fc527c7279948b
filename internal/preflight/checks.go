package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"celigo/internal/config"
	"celigo/internal/deps"
	"celigo/internal/fileutil"
	"celigo/internal/publish"
)

const backendTimeout = 10 * time.Second

// CheckSchedulerDeps resolves the submission and queue commands. Both are
// required; the driver cannot make progress without either.
func CheckSchedulerDeps(ctx context.Context, cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(ctx, []deps.Requirement{
		{
			Name:        "Submit command",
			Command:     cfg.Scheduler.SubmitCommand,
			Description: "install the SLURM client or set scheduler.submit_command",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "Queue command",
			Command:     cfg.Scheduler.QueryCommand,
			Description: "install the SLURM client or set scheduler.query_command",
			VersionArgs: []string{"--version"},
		},
	})
}

// FromDependency converts a dependency status into a check result.
func FromDependency(s deps.Status) Result {
	if s.Available {
		detail := s.Command
		if s.Version != "" {
			detail = fmt.Sprintf("%s (%s)", s.Command, s.Version)
		}
		return Result{Name: s.Name, Passed: true, Detail: detail}
	}
	return Result{Name: s.Name, Passed: s.Optional, Detail: s.Detail}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckFreeSpace verifies that the filesystem holding path has at least
// minGiB available. A zero minimum only reports the figure.
func CheckFreeSpace(name, path string, minGiB int) Result {
	free, err := fileutil.FreeBytes(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	freeGiB := float64(free) / (1 << 30)
	if minGiB > 0 && free < uint64(minGiB)<<30 {
		return Result{Name: name, Detail: fmt.Sprintf("%.1f GiB free, %d GiB required", freeGiB, minGiB)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%.1f GiB free", freeGiB)}
}

// CheckStorage verifies the artifact bucket is reachable.
func CheckStorage(ctx context.Context, cfg config.Storage) Result {
	const name = "Artifact storage"

	store, err := publish.NewS3Store(cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	checkCtx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	if err := store.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeBackendError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s/%s reachable", cfg.Endpoint, cfg.Bucket)}
}

// CheckDatabase verifies the results database accepts connections.
func CheckDatabase(ctx context.Context, cfg config.Database) Result {
	const name = "Results database"

	checkCtx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()
	db, err := publish.OpenPostgres(checkCtx, cfg)
	if err != nil {
		return Result{Name: name, Detail: summarizeBackendError(err)}
	}
	defer db.Close()
	if err := db.Ping(checkCtx); err != nil {
		return Result{Name: name, Detail: summarizeBackendError(err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("table %s reachable", cfg.Table)}
}

func summarizeBackendError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (backend unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (backend unreachable)"
	}
	return err.Error()
}
