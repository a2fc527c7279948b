package runs

import (
	"context"
	"fmt"
	"time"
)

// Stats returns a count of runs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// DailySummary counts the runs started on day, where day boundaries follow
// day's location.
func (s *Store) DailySummary(ctx context.Context, day time.Time) (Summary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	summary := Summary{Day: start}

	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT status, COUNT(1) FROM runs WHERE started_at >= ? AND started_at < ? GROUP BY status`,
		formatTime(start), formatTime(end))
	if err != nil {
		return summary, fmt.Errorf("daily summary: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return summary, err
		}
		summary.Total += count
		switch status {
		case StatusComplete:
			summary.Complete += count
		case StatusFailed:
			summary.Failed += count
		case StatusTimeout:
			summary.Timeout += count
		default:
			summary.Running += count
		}
	}
	return summary, rows.Err()
}

// ResetInterrupted marks runs still recorded as running as failed. Only call
// it when no driver process is running; a live run would lose its record.
func (s *Store) ResetInterrupted(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE runs
            SET status = ?, error_kind = ?, error_message = ?, finished_at = ?
          WHERE status = ?`,
		StatusFailed,
		"interrupted",
		"process exited before the run finished",
		formatTime(now),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

// PruneBefore deletes finished runs that started before cutoff, with their
// stage results.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`DELETE FROM runs WHERE started_at < ? AND status != ?`,
		formatTime(cutoff), StatusRunning)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	return res.RowsAffected()
}
