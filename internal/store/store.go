package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/dataset"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store indexes completed task runs in PostgreSQL. The dataset on disk
// remains the source of truth; the index makes runs searchable.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// RunSummary is one row of the run index.
type RunSummary struct {
	RunID            string
	AppName          string
	TaskName         string
	Status           string
	TotalScreenshots int
	DatasetDir       string
	CompletedAt      time.Time
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS task_runs (
    run_id            TEXT PRIMARY KEY,
    app_name          TEXT NOT NULL,
    task_name         TEXT NOT NULL,
    instruction       TEXT NOT NULL,
    url               TEXT NOT NULL,
    status            TEXT NOT NULL,
    error             TEXT NOT NULL DEFAULT '',
    total_screenshots INTEGER NOT NULL,
    dataset_dir       TEXT NOT NULL,
    created_at        TIMESTAMPTZ NOT NULL,
    completed_at      TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS run_screenshots (
    run_id      TEXT NOT NULL REFERENCES task_runs(run_id) ON DELETE CASCADE,
    position    INTEGER NOT NULL,
    filename    TEXT NOT NULL,
    description TEXT NOT NULL,
    url         TEXT NOT NULL,
    action      TEXT NOT NULL,
    selector    TEXT NOT NULL,
    captured_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, position)
);`

const sqlUpsertRun = `
    INSERT INTO task_runs (run_id, app_name, task_name, instruction, url, status, error, total_screenshots, dataset_dir, created_at, completed_at)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    ON CONFLICT (run_id) DO UPDATE SET
        status = EXCLUDED.status,
        error = EXCLUDED.error,
        total_screenshots = EXCLUDED.total_screenshots,
        completed_at = EXCLUDED.completed_at;
`

const sqlDeleteScreenshots = `DELETE FROM run_screenshots WHERE run_id = $1;`

const sqlRecentRuns = `
    SELECT run_id, app_name, task_name, status, total_screenshots, dataset_dir, completed_at
    FROM task_runs
    ORDER BY completed_at DESC
    LIMIT $1;
`

var screenshotColumns = []string{"run_id", "position", "filename", "description", "url", "action", "selector", "captured_at"}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the index tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordRun indexes a finalized run and its screenshots in one transaction.
// Re-recording a run replaces its screenshot rows.
func (s *Store) RecordRun(ctx context.Context, dir string, md *dataset.Metadata) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlUpsertRun,
		md.RunID, md.AppName, md.TaskName, md.Instruction, md.TaskInfo.URL,
		md.Status, md.Error, md.TotalScreenshots, dir,
		md.CreatedAt.UTC(), md.CompletedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", md.RunID, err)
	}

	if _, err := tx.Exec(ctx, sqlDeleteScreenshots, md.RunID); err != nil {
		return fmt.Errorf("failed to clear screenshots of run %s: %w", md.RunID, err)
	}

	if len(md.Screenshots) > 0 {
		if err := s.copyScreenshots(ctx, tx, md); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run indexed.", zap.String("run_id", md.RunID), zap.Int("screenshots", len(md.Screenshots)))
	return nil
}

func (s *Store) copyScreenshots(ctx context.Context, tx pgx.Tx, md *dataset.Metadata) error {
	rows := make([][]interface{}, len(md.Screenshots))
	for i, shot := range md.Screenshots {
		rows[i] = []interface{}{
			md.RunID, i, shot.Filename, shot.Description, shot.URL,
			shot.Action, shot.Selector, shot.CapturedAt.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"run_screenshots"}, screenshotColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy screenshots: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied screenshots count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	rows, err := s.pool.Query(ctx, sqlRecentRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.AppName, &r.TaskName, &r.Status, &r.TotalScreenshots, &r.DatasetDir, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}
