package pipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"celigo/internal/runs"
)

// RunAll runs every input concurrently, at most pipeline.max_concurrent_runs
// at a time. One work unit failing does not stop the others; results are
// returned in input order and the error joins every failure.
func (d *Driver) RunAll(ctx context.Context, inputs []string) ([]WorkUnitResult, error) {
	results := make([]WorkUnitResult, len(inputs))
	errs := make([]error, len(inputs))

	limit := d.cfg.Pipeline.MaxConcurrentRuns
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, input := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = WorkUnitResult{InputPath: input, Profile: d.profile.Name, Status: runs.StatusFailed, ErrorKind: "cancelled"}
				errs[i] = fmt.Errorf("%s: not started: %w", input, err)
				return nil
			}
			res, err := d.Run(ctx, input)
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", input, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
