// File: cmd/runs.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
	"github.com/xkilldash9x/webtrail/internal/store"
)

// runLister is the read side of the run index.
type runLister interface {
	RecentRuns(ctx context.Context, limit int) ([]store.RunSummary, error)
}

// storeProvider creates the run index. This abstraction allows tests to
// inject a fake instead of a live database connection.
type storeProvider interface {
	// Create returns the index, a cleanup function to release resources, and
	// an error if the creation fails.
	Create(ctx context.Context, cfg config.Interface) (runLister, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider is a factory function that creates a new defaultStoreProvider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

var errNoDatabase = errors.New("database URL is not configured (WEBTRAIL_DATABASE_URL)")

// Create connects to the database and returns the store along with a cleanup
// function that closes the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (runLister, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, errNoDatabase
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed (via runs cleanup).")
	}
	return storeService, cleanup, nil
}

// newRunsCmd creates and configures the `runs` command.
func newRunsCmd(provider storeProvider) *cobra.Command {
	var limit int

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recently recorded runs from the run index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return listRuns(ctx, cmd.OutOrStdout(), logger, cfg, limit, provider)
		},
	}
	runsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")
	return runsCmd
}

// listRuns contains the core, testable logic of the runs command.
func listRuns(ctx context.Context, out io.Writer, logger *zap.Logger, cfg config.Interface, limit int, provider storeProvider) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	runs, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	summaries, err := runs.RecentRuns(ctx, limit)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPLETED\tAPP\tTASK\tSTATUS\tSHOTS\tDIR")
	for _, r := range summaries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			r.CompletedAt.Local().Format(time.DateTime), r.AppName, r.TaskName, r.Status, r.TotalScreenshots, r.DatasetDir)
	}
	return w.Flush()
}
