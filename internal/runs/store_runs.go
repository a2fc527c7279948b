package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Begin inserts a running record for run. A missing correlation id is
// generated; StartedAt defaults to now.
func (s *Store) Begin(ctx context.Context, run Run) (*Run, error) {
	if strings.TrimSpace(run.WorkUnitID) == "" {
		return nil, errors.New("work unit id required")
	}
	if run.CorrelationID == "" {
		run.CorrelationID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = StatusRunning

	res, err := s.execWithRetry(ctx,
		`INSERT INTO runs (
            correlation_id, work_unit_id, input_path, profile, workspace, status, started_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.CorrelationID,
		run.WorkUnitID,
		run.InputPath,
		run.Profile,
		nullableString(run.Workspace),
		run.Status,
		formatTime(run.StartedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(ctx, id)
}

// RecordStage appends a stage attempt to runID.
func (s *Store) RecordStage(ctx context.Context, runID int64, result StageResult) error {
	if result.Attempt <= 0 {
		result.Attempt = 1
	}
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}
	_, err := s.execWithRetry(ctx,
		`INSERT INTO stage_results (
            run_id, stage, attempt, job_id, state, ticks, output_path, detail, submitted_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID,
		result.Stage,
		result.Attempt,
		nullableString(result.JobID),
		result.State,
		result.Ticks,
		nullableString(result.OutputPath),
		nullableString(result.Detail),
		nullableTime(result.SubmittedAt),
		formatTime(result.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("record stage %s: %w", result.Stage, err)
	}
	return nil
}

// Outcome is the terminal state written by Finish.
type Outcome struct {
	Status       Status
	FailedStage  string
	ErrorKind    string
	ErrorMessage string
	FinishedAt   time.Time
}

// Finish moves a running record to its terminal status. Finishing a run
// that already finished returns an error and leaves it unchanged.
func (s *Store) Finish(ctx context.Context, runID int64, outcome Outcome) error {
	if !outcome.Status.Terminal() {
		return fmt.Errorf("finish run %d: status %q is not terminal", runID, outcome.Status)
	}
	if outcome.FinishedAt.IsZero() {
		outcome.FinishedAt = time.Now()
	}
	res, err := s.execWithRetry(ctx,
		`UPDATE runs
            SET status = ?, failed_stage = ?, error_kind = ?, error_message = ?, finished_at = ?
          WHERE id = ? AND status = ?`,
		outcome.Status,
		nullableString(outcome.FailedStage),
		nullableString(outcome.ErrorKind),
		nullableString(outcome.ErrorMessage),
		formatTime(outcome.FinishedAt),
		runID,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %d: %w or already finished", runID, ErrNotFound)
	}
	return nil
}

// Get fetches a run by row id.
func (s *Store) Get(ctx context.Context, id int64) (*Run, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %d: %w", id, err)
	}
	return run, nil
}

// ListRecent returns up to limit runs, newest first. workUnitID filters when
// non-empty.
func (s *Store) ListRecent(ctx context.Context, limit int, workUnitID string) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if workUnitID = strings.TrimSpace(workUnitID); workUnitID != "" {
		query += ` WHERE work_unit_id = ?`
		args = append(args, workUnitID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// Stages returns the stage attempts of runID in insertion order.
func (s *Store) Stages(ctx context.Context, runID int64) ([]StageResult, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT id, run_id, stage, attempt, job_id, state, ticks, output_path, detail, submitted_at, finished_at
           FROM stage_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	defer rows.Close()

	var out []StageResult
	for rows.Next() {
		var (
			r           StageResult
			jobID       sql.NullString
			outputPath  sql.NullString
			detail      sql.NullString
			submitted   sql.NullString
			finishedRaw string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Stage, &r.Attempt, &jobID, &r.State, &r.Ticks,
			&outputPath, &detail, &submitted, &finishedRaw); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		r.JobID = jobID.String
		r.OutputPath = outputPath.String
		r.Detail = detail.String
		if submitted.Valid {
			if ts, err := parseTimeString(submitted.String); err == nil {
				r.SubmittedAt = &ts
			}
		}
		if ts, err := parseTimeString(finishedRaw); err == nil {
			r.FinishedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
