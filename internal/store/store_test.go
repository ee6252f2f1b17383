package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/webtrail/internal/dataset"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T, logger *zap.Logger) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return mockPool, s
}

func sampleMetadata() *dataset.Metadata {
	created := time.Date(2024, 3, 9, 9, 5, 7, 0, time.FixedZone("EST", -5*3600))
	return &dataset.Metadata{
		RunID:       "run-1",
		TaskName:    "search for cats",
		AppName:     "example",
		CreatedAt:   created,
		Instruction: "go to example.com and search for cats",
		TaskInfo:    dataset.TaskInfo{AppName: "example", URL: "https://example.com", Task: "search for cats"},
		Screenshots: []dataset.Screenshot{
			{Filename: "00_initial.png", Description: "Initial page", URL: "https://example.com/", CapturedAt: created},
			{Filename: "01_after_type.png", Action: "type", Selector: "#q", URL: "https://example.com/?q=cats", CapturedAt: created.Add(time.Second)},
		},
		TotalScreenshots: 2,
		CompletedAt:      created.Add(time.Minute),
		Status:           dataset.StatusCompleted,
	}
}

// -- Test Cases --

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	mockPool, s := newMockStore(t, zap.NewNop())
	mockPool.ExpectExec(flexibleSQLMatcher(schemaSQL)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecordRun(t *testing.T) {
	ctx := context.Background()

	t.Run("should index run and screenshots without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		mockPool, s := newMockStore(t, zap.New(observedZapCore))
		md := sampleMetadata()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRun)).
			WithArgs(
				"run-1", "example", "search for cats", md.Instruction, "https://example.com",
				"completed", "", 2, "/data/example/run",
				md.CreatedAt.UTC(), md.CompletedAt.UTC(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteScreenshots)).
			WithArgs("run-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCopyFrom(pgx.Identifier{"run_screenshots"}, screenshotColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.RecordRun(ctx, "/data/example/run", md))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("should skip copy for runs without screenshots", func(t *testing.T) {
		mockPool, s := newMockStore(t, zap.NewNop())
		md := sampleMetadata()
		md.Screenshots = nil
		md.TotalScreenshots = 0
		md.Status = dataset.StatusFailed
		md.Error = "navigation failed"

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRun)).
			WithArgs(
				"run-1", "example", "search for cats", md.Instruction, "https://example.com",
				"failed", "navigation failed", 0, "/d",
				md.CreatedAt.UTC(), md.CompletedAt.UTC(),
			).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteScreenshots)).
			WithArgs("run-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.RecordRun(ctx, "/d", md))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the copy fails", func(t *testing.T) {
		mockPool, s := newMockStore(t, zap.NewNop())
		md := sampleMetadata()

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertRun)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteScreenshots)).
			WithArgs("run-1").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		copyErr := errors.New("disk full")
		mockPool.ExpectCopyFrom(pgx.Identifier{"run_screenshots"}, screenshotColumns).WillReturnError(copyErr)
		mockPool.ExpectRollback()

		err := s.RecordRun(ctx, "/d", md)
		require.Error(t, err)
		assert.ErrorIs(t, err, copyErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail on begin error", func(t *testing.T) {
		mockPool, s := newMockStore(t, zap.NewNop())
		mockPool.ExpectBegin().WillReturnError(errors.New("conn lost"))

		err := s.RecordRun(ctx, "/d", sampleMetadata())
		assert.ErrorContains(t, err, "failed to begin transaction")
	})
}

func TestRecentRuns(t *testing.T) {
	mockPool, s := newMockStore(t, zap.NewNop())
	completed := time.Date(2024, 3, 9, 14, 6, 7, 0, time.UTC)

	rows := pgxmock.NewRows([]string{"run_id", "app_name", "task_name", "status", "total_screenshots", "dataset_dir", "completed_at"}).
		AddRow("run-2", "example", "search for dogs", "failed", 1, "/d/2", completed).
		AddRow("run-1", "example", "search for cats", "completed", 2, "/d/1", completed.Add(-time.Hour))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlRecentRuns)).WithArgs(10).WillReturnRows(rows)

	runs, err := s.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, RunSummary{
		RunID: "run-2", AppName: "example", TaskName: "search for dogs", Status: "failed",
		TotalScreenshots: 1, DatasetDir: "/d/2", CompletedAt: completed,
	}, runs[0])
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
