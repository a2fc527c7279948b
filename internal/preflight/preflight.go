package preflight

import (
	"context"

	"celigo/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Scheduler commands (always checked)
	for _, status := range CheckSchedulerDeps(ctx, cfg) {
		results = append(results, FromDependency(status))
	}

	results = append(results, CheckDirectoryAccess("Workspace root", cfg.Paths.WorkspaceRoot))
	results = append(results, CheckFreeSpace("Workspace free space", cfg.Paths.WorkspaceRoot, cfg.Workspace.MinFreeGiB))
	results = append(results, CheckDirectoryAccess("State directory", cfg.Paths.StateDir))

	if cfg.StorageEnabled() {
		results = append(results, CheckStorage(ctx, cfg.Storage))
	}
	if cfg.DatabaseEnabled() {
		results = append(results, CheckDatabase(ctx, cfg.Database))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
