package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"celigo/internal/logging"
	"celigo/internal/notifications"
	"celigo/internal/publish"
	"celigo/internal/runs"
	"celigo/internal/services"
	"celigo/internal/workspace"
)

func (d *Driver) publish(ctx context.Context, res *WorkUnitResult, h *workspace.Handle) error {
	ctx = services.WithStage(ctx, stagePublish)
	logger := logging.WithContext(ctx, d.logger)
	if d.publisher == nil {
		logger.Debug("no publisher configured; results stay in the workspace")
		return nil
	}
	req := publish.Request{
		WorkUnitID:    res.WorkUnitID,
		CorrelationID: res.CorrelationID,
		Profile:       res.Profile,
		InputPath:     res.InputPath,
		Artifacts:     publish.ArtifactPaths(res.Artifacts),
		ImageTable:    workspaceFile(h.Path, d.profile.Metrics.Image),
		ObjectTable:   workspaceFile(h.Path, d.profile.Metrics.Objects),
		CompletedAt:   time.Now(),
	}
	rec, err := d.publisher.Publish(ctx, req)
	if err != nil {
		d.metrics.RecordPublishError(ctx)
		if !errors.Is(err, services.ErrPublish) {
			err = services.Wrap(services.ErrPublish, stagePublish, "publish", res.WorkUnitID, err)
		}
		return err
	}
	res.Record = &rec
	logger.Info("work unit published",
		logging.Int("artifacts", len(rec.FileIDs)),
		logging.Int("measurement_rows", len(rec.Measurements)),
		logging.String(logging.FieldEventType, "run_published"),
	)
	return nil
}

func workspaceFile(dir, rel string) string {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return ""
	}
	return filepath.Join(dir, filepath.FromSlash(rel))
}

// conclude records the terminal outcome of a run. It runs after the
// workspace has been given up and ignores cancellation so an interrupted run
// is still written down and reported.
func (d *Driver) conclude(ctx context.Context, res *WorkUnitResult, failedStage string, runErr error) {
	ctx = context.WithoutCancel(ctx)
	logger := logging.WithContext(ctx, d.logger)
	res.FinishedAt = time.Now()
	res.Status = statusFor(runErr)
	if runErr != nil {
		res.FailedStage = failedStage
		res.ErrorKind = errorKind(runErr)
	}

	if d.store != nil && res.RunID != 0 {
		outcome := runs.Outcome{
			Status:      res.Status,
			FailedStage: res.FailedStage,
			ErrorKind:   res.ErrorKind,
			FinishedAt:  res.FinishedAt,
		}
		if runErr != nil {
			outcome.ErrorMessage = runErr.Error()
		}
		if err := d.store.Finish(ctx, res.RunID, outcome); err != nil {
			logging.WarnWithContext(logger, "run outcome not recorded", "run_history_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "celigo history shows this run as running"),
				logging.String(logging.FieldErrorHint, "run celigo history reset-interrupted"),
			)
		}
	}
	d.metrics.RecordRunFinished(ctx, res.Profile, string(res.Status), res.ErrorKind, res.Duration().Seconds())

	event := notifications.Event{
		WorkUnitID: res.WorkUnitID,
		Status:     string(res.Status),
		Stage:      res.FailedStage,
		At:         res.FinishedAt,
	}
	if runErr == nil {
		logger.Info("work unit complete",
			logging.Int("stages", len(res.Stages)),
			logging.Duration("run_duration", res.Duration()),
			logging.String(logging.FieldEventType, "run_complete"),
		)
		if err := d.notifier.NotifyRunCompleted(ctx, event); err != nil {
			logging.WarnWithContext(logger, "completion notification failed", "notification_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "operators were not told this run finished"),
			)
		}
		return
	}

	event.Detail = runErr.Error()
	event.Hint = services.Hint(runErr)
	logging.ErrorWithContext(logger, "work unit failed", "run_failed",
		logging.String("status", string(res.Status)),
		logging.String("failed_stage", res.FailedStage),
		logging.String(logging.FieldErrorKind, res.ErrorKind),
		logging.String(logging.FieldErrorHint, event.Hint),
		logging.Bool("workspace_retained", res.Retained),
		logging.Error(runErr),
	)
	if err := d.notifier.NotifyRunFailed(ctx, event); err != nil {
		logging.WarnWithContext(logger, "failure notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "operators were not told this run failed"),
			logging.String(logging.FieldErrorHint, "run celigo test-notify"),
		)
	}
}

func statusFor(err error) runs.Status {
	switch {
	case err == nil:
		return runs.StatusComplete
	case errors.Is(err, services.ErrStageTimeout):
		return runs.StatusTimeout
	default:
		return runs.StatusFailed
	}
}

func errorKind(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return services.Kind(err)
}
