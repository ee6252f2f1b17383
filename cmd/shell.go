// File: cmd/shell.go
package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
)

const shellBanner = `
  webtrail: ask the agent to do something on a website.
  Example: go to example.com and search for cats
  Type quit, exit or q to leave. The browser stays open.

`

// newShellCmd creates the interactive `shell` command reading from in.
func newShellCmd(provider agentProvider, in io.Reader) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive prompt that runs one instruction per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runShell(ctx, in, cmd.OutOrStdout(), logger, cfg, provider)
		},
	}
}

func isQuit(line string) bool {
	switch strings.ToLower(line) {
	case "quit", "exit", "q":
		return true
	}
	return false
}

// runShell connects once and executes every line as an instruction until a
// quit keyword, EOF or cancellation of ctx.
func runShell(ctx context.Context, in io.Reader, out io.Writer, logger *zap.Logger, cfg config.Interface, provider agentProvider) error {
	executor, cleanup, err := provider.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize agent: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	fmt.Fprint(out, shellBanner)

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines, scanErr := readLines(readCtx, in)
	for {
		fmt.Fprint(out, "webtrail > ")

		var (
			line string
			ok   bool
		)
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nInterrupted. Exiting webtrail.")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(out)
			if err := <-scanErr; err != nil {
				return fmt.Errorf("error reading input: %w", err)
			}
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isQuit(line) {
			break
		}

		res, err := executor.ExecuteTask(ctx, line)
		printResult(out, res)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				fmt.Fprintln(out, "\nInterrupted. Exiting webtrail.")
				return nil
			}
			logger.Warn("Task failed.", zap.Error(err))
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, "Exiting webtrail.")
	return nil
}

// readLines feeds lines from in until EOF or ctx is done. The error channel
// receives the scanner's final error once lines is closed.
func readLines(ctx context.Context, in io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
	}()
	return lines, errc
}
