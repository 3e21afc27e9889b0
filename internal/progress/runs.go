package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Run is one recorded sync attempt.
type Run struct {
	ID         int64
	User       string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or if the process died
	Pages      int
	Records    int
	Error      string
}

// Finished reports whether the run recorded an outcome.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// Duration returns how long a finished run took.
func (r Run) Duration() time.Duration {
	if !r.Finished() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunResult is the outcome passed to FinishRun.
type RunResult struct {
	Pages   int
	Records int
	Err     error
}

// StartRun records the start of a sync run and returns its id.
func (s *Store) StartRun(ctx context.Context, user, mode string) (int64, error) {
	query := `
		INSERT INTO sync_runs (username, mode, started_at)
		VALUES (?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query, user, mode, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to insert sync run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}

	return id, nil
}

// FinishRun records the outcome of a run.
func (s *Store) FinishRun(ctx context.Context, id int64, res RunResult) error {
	query := `
		UPDATE sync_runs
		SET finished_at = ?, pages = ?, records = ?, error = ?
		WHERE id = ?
	`

	var errMsg sql.NullString
	if res.Err != nil {
		errMsg = sql.NullString{String: res.Err.Error(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query, s.now().Unix(), res.Pages, res.Records, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("sync run with id %d not found", id)
	}

	return nil
}

// RecentRuns returns up to limit runs of the user, newest first.
func (s *Store) RecentRuns(ctx context.Context, user string, limit int) ([]Run, error) {
	query := `
		SELECT id, username, mode, started_at, finished_at, pages, records, error
		FROM sync_runs
		WHERE username = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, user, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt int64
		var finishedAt sql.NullInt64
		var errMsg sql.NullString

		if err := rows.Scan(&r.ID, &r.User, &r.Mode, &startedAt, &finishedAt, &r.Pages, &r.Records, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}

		r.StartedAt = time.Unix(startedAt, 0)
		if finishedAt.Valid {
			r.FinishedAt = time.Unix(finishedAt.Int64, 0)
		}
		if errMsg.Valid {
			r.Error = errMsg.String
		}

		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync runs: %w", err)
	}

	return runs, nil
}

// Cleanup removes finished runs older than maxAge.
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge).Unix()

	query := `
		DELETE FROM sync_runs
		WHERE finished_at IS NOT NULL AND started_at < ?
	`

	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup sync runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}
