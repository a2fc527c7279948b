package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"celigo/internal/logging"
	"celigo/internal/poller"
	"celigo/internal/publish"
	"celigo/internal/retry"
	"celigo/internal/runs"
	"celigo/internal/services"
	"celigo/internal/stage"
	"celigo/internal/workspace"
)

// Stage result states that never come out of the poller.
const (
	stateSubmissionError = "submission_error"
	stateQueryError      = "query_error"
	stateInterrupted     = "interrupted"
)

// execute stages the input and runs every stage in declared order. Stage k+1
// is only submitted once stage k's output exists.
func (d *Driver) execute(ctx context.Context, res *WorkUnitResult, h *workspace.Handle) (string, error) {
	staged, err := d.workspace.StageInput(ctx, h, res.InputPath, workspace.StageInputOptions{})
	if err != nil {
		return stageWorkspace, err
	}
	res.Artifacts = append(res.Artifacts, publish.Artifact{Label: "raw", Path: staged})

	current := staged
	for _, spec := range d.profile.Stages {
		if err := ctx.Err(); err != nil {
			return spec.Name, fmt.Errorf("run cancelled before %s: %w", spec.Name, err)
		}
		outcome, err := d.runStage(ctx, res, spec, current, h)
		res.Stages = append(res.Stages, outcome)
		if err != nil {
			return spec.Name, err
		}
		if spec.Publish {
			res.Artifacts = append(res.Artifacts, publish.Artifact{Label: spec.Name, Path: outcome.OutputPath})
		}
		if spec.Advance {
			current = outcome.OutputPath
		}
	}

	if err := d.publish(ctx, res, h); err != nil {
		return stagePublish, err
	}
	return "", nil
}

// runStage submits spec and polls it to a terminal state. With
// pipeline.stage_retries set, a Failed or Timeout job is resubmitted;
// submission and query errors are returned at once.
func (d *Driver) runStage(ctx context.Context, res *WorkUnitResult, spec stage.Spec, current string, h *workspace.Handle) (StageOutcome, error) {
	ctx = services.WithStage(ctx, spec.Name)
	logger := logging.WithContext(ctx, d.logger)
	outcome := StageOutcome{Stage: spec.Name}
	req := stage.Request{
		WorkUnitID:   res.WorkUnitID,
		Workspace:    h.Path,
		CurrentImage: current,
		Params:       d.profile.Params,
		TemplateDir:  d.profile.TemplateDir,
	}
	bounds := d.bounds(spec)
	attempts := 1 + max(d.cfg.Pipeline.StageRetries, 0)
	started := time.Now()
	finished := func(state string) {
		outcome.Elapsed = time.Since(started)
		d.metrics.RecordStageFinished(ctx, spec.Name, state, outcome.Elapsed.Seconds())
	}

	logger.Info("stage started",
		logging.String("current_image", current),
		logging.Duration("poll_interval", bounds.Interval),
		logging.Int("max_ticks", bounds.MaxTicks),
		logging.Int("grace_threshold", bounds.GraceThreshold),
		logging.String(logging.FieldEventType, "stage_start"),
	)

	var stageErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		outcome.Attempts = attempt
		job, err := d.submitter.Submit(ctx, spec, req)
		outcome.OutputPath = job.OutputPath
		if err != nil {
			d.recordStage(ctx, res.RunID, runs.StageResult{
				Stage:      spec.Name,
				Attempt:    attempt,
				State:      stateSubmissionError,
				OutputPath: job.OutputPath,
				Detail:     err.Error(),
			})
			finished(stateSubmissionError)
			return outcome, err
		}
		d.metrics.RecordStageSubmitted(ctx, spec.Name)
		outcome.JobID = job.JobID

		jobCtx := services.WithJobID(ctx, string(job.JobID))
		result, err := d.newPoller(ctx, spec.Name).Poll(jobCtx, poller.Target{JobID: job.JobID, OutputPath: job.OutputPath}, bounds)
		outcome.State = result.State
		outcome.Ticks = result.Ticks
		submittedAt := job.SubmittedAt
		record := runs.StageResult{
			Stage:       spec.Name,
			Attempt:     attempt,
			JobID:       string(job.JobID),
			State:       string(result.State),
			Ticks:       result.Ticks,
			OutputPath:  job.OutputPath,
			SubmittedAt: &submittedAt,
		}
		if err != nil {
			record.State = stateInterrupted
			if errors.Is(err, services.ErrQuery) {
				record.State = stateQueryError
				d.metrics.RecordQueryError(ctx, spec.Name)
			}
			record.Detail = err.Error()
			d.recordStage(ctx, res.RunID, record)
			finished(record.State)
			return outcome, err
		}

		stageErr = stageError(spec.Name, job, result)
		if stageErr != nil {
			record.Detail = stageErr.Error()
			if out := result.LastSample.Output; out != "" {
				record.Detail += "\n" + out
			}
		}
		d.recordStage(ctx, res.RunID, record)
		if stageErr == nil {
			finished(string(result.State))
			logger.Info("stage completed",
				logging.String(logging.FieldJobID, string(job.JobID)),
				logging.String("output", job.OutputPath),
				logging.Int("ticks", result.Ticks),
				logging.Int("attempt", attempt),
				logging.Duration("stage_duration", time.Since(started)),
				logging.String(logging.FieldEventType, "stage_complete"),
			)
			return outcome, nil
		}
		if attempt < attempts {
			logging.WarnWithContext(logger, "stage did not complete; resubmitting", "stage_retry",
				logging.String(logging.FieldJobID, string(job.JobID)),
				logging.String("state", string(result.State)),
				logging.Int("attempt", attempt),
				logging.Int("attempts", attempts),
				logging.String(logging.FieldImpact, "stage runs again from a fresh submission"),
				logging.String(logging.FieldErrorHint, services.Hint(stageErr)),
			)
		}
	}
	finished(string(outcome.State))
	return outcome, stageErr
}

// stageError maps a terminal poll result onto the run's error kinds.
func stageError(name string, job stage.JobHandle, r poller.Result) error {
	switch r.State {
	case poller.StateComplete:
		return nil
	case poller.StateFailed:
		return services.Wrap(services.ErrStageFailed, name, "poll",
			fmt.Sprintf("job %s left the queue without writing %s (tick %d)", job.JobID, job.OutputPath, r.Ticks), nil)
	case poller.StateTimeout:
		return services.Wrap(services.ErrStageTimeout, name, "poll",
			fmt.Sprintf("job %s did not finish within %d ticks (in queue at last check: %t)", job.JobID, r.Ticks, r.LastSample.Present), nil)
	default:
		return services.Wrap(services.ErrStageFailed, name, "poll",
			fmt.Sprintf("job %s stopped in state %s", job.JobID, r.State), nil)
	}
}

func (d *Driver) bounds(spec stage.Spec) poller.Bounds {
	b := spec.Bounds(d.cfg.Scheduler)
	if d.pollInterval > 0 {
		b.Interval = d.pollInterval
	}
	return b
}

// newPoller builds a poller per stage so ticks are attributed to it.
func (d *Driver) newPoller(ctx context.Context, stageName string) *poller.Poller {
	sched := d.cfg.Scheduler
	opts := []poller.Option{
		poller.WithLogger(d.logger),
		poller.WithQueryRetry(sched.QueryRetries, retry.Config{
			Initial: time.Duration(sched.QueryBackoffMS) * time.Millisecond,
			Max:     time.Duration(sched.QueryBackoffMaxMS) * time.Millisecond,
		}),
		poller.WithTickObserver(func(poller.Tick) {
			d.metrics.RecordPollTick(ctx, stageName)
		}),
	}
	opts = append(opts, d.pollerOpts...)
	return poller.New(d.scheduler, opts...)
}

func (d *Driver) recordStage(ctx context.Context, runID int64, result runs.StageResult) {
	if d.store == nil || runID == 0 {
		return
	}
	if err := d.store.RecordStage(context.WithoutCancel(ctx), runID, result); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, d.logger), "stage result not recorded", "run_history_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "celigo history will miss this stage attempt"),
		)
	}
}
