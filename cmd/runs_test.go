// File: cmd/runs_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/store"
)

func sampleRuns() []store.RunSummary {
	return []store.RunSummary{
		{RunID: "b", AppName: "wikipedia", TaskName: "open the main page", Status: "completed", TotalScreenshots: 3, DatasetDir: "dataset/wikipedia/open_the_main_page_20250102_090000", CompletedAt: time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC)},
		{RunID: "a", AppName: "example", TaskName: "search for cats", Status: "failed", TotalScreenshots: 1, DatasetDir: "dataset/example/search_for_cats_20250101_120000", CompletedAt: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func TestListRuns(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.NewDefaultConfig()
	ctx := context.Background()

	t.Run("prints a table of runs", func(t *testing.T) {
		stores := &fakeStoreProvider{lister: &fakeRunLister{runs: sampleRuns()}}
		var out bytes.Buffer

		require.NoError(t, listRuns(ctx, &out, logger, cfg, 20, stores))

		assert.True(t, stores.cleaned)
		lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
		require.Len(t, lines, 3)
		assert.Contains(t, string(lines[0]), "COMPLETED")
		assert.Contains(t, string(lines[1]), "wikipedia")
		assert.Contains(t, string(lines[2]), "search for cats")
		assert.Contains(t, string(lines[2]), "failed")
	})

	t.Run("honours the limit", func(t *testing.T) {
		stores := &fakeStoreProvider{lister: &fakeRunLister{runs: sampleRuns()}}
		var out bytes.Buffer

		require.NoError(t, listRuns(ctx, &out, logger, cfg, 1, stores))
		assert.NotContains(t, out.String(), "search for cats")
	})

	t.Run("empty index", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, listRuns(ctx, &out, logger, cfg, 5, &fakeStoreProvider{lister: &fakeRunLister{}}))
		assert.Equal(t, "No runs recorded yet.\n", out.String())
	})

	t.Run("query errors", func(t *testing.T) {
		stores := &fakeStoreProvider{lister: &fakeRunLister{err: errors.New("relation \"task_runs\" does not exist")}}
		err := listRuns(ctx, &bytes.Buffer{}, logger, cfg, 5, stores)
		assert.ErrorContains(t, err, "failed to list runs")
		assert.True(t, stores.cleaned)
	})

	t.Run("invalid limit", func(t *testing.T) {
		err := listRuns(ctx, &bytes.Buffer{}, logger, cfg, 0, &fakeStoreProvider{})
		assert.ErrorContains(t, err, "--limit must be positive")
	})
}

func TestDefaultStoreProvider_RequiresURL(t *testing.T) {
	_, _, err := NewStoreProvider().Create(context.Background(), config.NewDefaultConfig())
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestRunsCmd(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	root := newTestRootCmd(t, nil, &fakeStoreProvider{lister: &fakeRunLister{runs: sampleRuns()}}, nil)

	out, err := executeCommand(t, root, "runs", "--limit", "5")

	require.NoError(t, err)
	assert.Contains(t, out, "open the main page")
}
