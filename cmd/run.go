// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/agent"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd(provider agentProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run <instruction...>",
		Short: "Execute one instruction and record its UI states",
		Long: `Parses the instruction into a site and a task, drives the browser until the
oracle reports the task done or the step budget runs out, and writes the
screenshots and metadata.json of the run to the dataset.`,
		Example: `  webtrail run "go to example.com and search for cats"
  webtrail run --provider openai --capture both "open github.com and find the trending page"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runTask(ctx, cmd.OutOrStdout(), logger, cfg, strings.Join(args, " "), provider)
		},
	}
}

// runTask contains the core, testable logic of the run command.
func runTask(ctx context.Context, out io.Writer, logger *zap.Logger, cfg config.Interface, instruction string, provider agentProvider) error {
	executor, cleanup, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	res, err := executor.ExecuteTask(ctx, instruction)
	printResult(out, res)
	return err
}

// printResult writes a short report of a finished task.
func printResult(out io.Writer, res *agent.TaskResult) {
	if res == nil {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Task:        %s\n", res.Task)
	if res.URL != "" {
		fmt.Fprintf(out, "Site:        %s (%s)\n", res.AppName, res.URL)
	}
	fmt.Fprintf(out, "Result:      %s (%s) after %d step(s)\n", res.State, res.Status, res.Steps)
	if res.Summary != "" {
		fmt.Fprintf(out, "Summary:     %s\n", res.Summary)
	}
	if res.Err != nil {
		fmt.Fprintf(out, "Error:       %v\n", res.Err)
	}
	if res.DatasetDir != "" {
		fmt.Fprintf(out, "Screenshots: %d saved to %s\n", res.Screenshots, res.DatasetDir)
	}
}
