// Package progress records sync bookkeeping in SQLite: how far a full
// history fetch got, and a log of past sync runs.
package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store holds per-user resume state and the sync run history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Progress is the resume state of one user.
type Progress struct {
	User                 string
	LastSavedPage        int
	ExpectedTotalPages   int
	InitialFetchComplete bool
	UpdatedAt            time.Time
}

// Resumable reports whether a full fetch was interrupted part way.
func (p Progress) Resumable() bool {
	return !p.InitialFetchComplete && p.LastSavedPage > 0
}

// Open opens or creates the progress database at dbPath. Use ":memory:"
// for a throwaway database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases consistent and matches
	// the single-writer model.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS progress (
			username TEXT PRIMARY KEY,
			last_saved_page INTEGER NOT NULL DEFAULT 0,
			expected_total_pages INTEGER NOT NULL DEFAULT 0,
			initial_fetch_complete BOOLEAN NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
		);

		CREATE TABLE IF NOT EXISTS sync_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER,
			pages INTEGER NOT NULL DEFAULT 0,
			records INTEGER NOT NULL DEFAULT 0,
			error TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sync_runs_user ON sync_runs(username, started_at);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the user's progress. A user with no row yet gets the zero
// state: nothing saved, total unknown, initial fetch incomplete.
func (s *Store) Get(ctx context.Context, user string) (Progress, error) {
	query := `
		SELECT last_saved_page, expected_total_pages, initial_fetch_complete, updated_at
		FROM progress
		WHERE username = ?
	`

	p := Progress{User: user}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, user).Scan(
		&p.LastSavedPage,
		&p.ExpectedTotalPages,
		&p.InitialFetchComplete,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return Progress{}, fmt.Errorf("failed to get progress: %w", err)
	}

	p.UpdatedAt = time.Unix(updatedAt, 0)
	return p, nil
}

// SetLastSavedPage records the highest page durably written.
func (s *Store) SetLastSavedPage(ctx context.Context, user string, page int) error {
	return s.upsert(ctx, user, "last_saved_page", page)
}

// SetExpectedTotalPages records the page count of the running full fetch.
func (s *Store) SetExpectedTotalPages(ctx context.Context, user string, total int) error {
	return s.upsert(ctx, user, "expected_total_pages", total)
}

// SetInitialFetchComplete marks whether the full history is on disk.
func (s *Store) SetInitialFetchComplete(ctx context.Context, user string, complete bool) error {
	return s.upsert(ctx, user, "initial_fetch_complete", complete)
}

// ClearResume forgets the saved page and total of an interrupted full
// fetch.
func (s *Store) ClearResume(ctx context.Context, user string) error {
	query := `
		UPDATE progress
		SET last_saved_page = 0, expected_total_pages = 0, updated_at = ?
		WHERE username = ?
	`

	if _, err := s.db.ExecContext(ctx, query, s.now().Unix(), user); err != nil {
		return fmt.Errorf("failed to clear resume state: %w", err)
	}
	return nil
}

// Reset removes every trace of the user: progress and run history.
func (s *Store) Reset(ctx context.Context, user string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM progress WHERE username = ?`, user); err != nil {
		return fmt.Errorf("failed to delete progress: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_runs WHERE username = ?`, user); err != nil {
		return fmt.Errorf("failed to delete sync runs: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// upsert sets a single column, creating the row if needed. column is
// always one of the fixed names above.
func (s *Store) upsert(ctx context.Context, user, column string, value interface{}) error {
	if user == "" {
		return errors.New("username cannot be empty")
	}

	query := fmt.Sprintf(`
		INSERT INTO progress (username, %[1]s, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET %[1]s = excluded.%[1]s, updated_at = excluded.updated_at
	`, column)

	if _, err := s.db.ExecContext(ctx, query, user, value, s.now().Unix()); err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	return nil
}
