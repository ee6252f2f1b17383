// File: cmd/webtrail/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/webtrail/cmd"
	"github.com/xkilldash9x/webtrail/internal/observability"
)

const panicLogFile = "panic.log"

// Define function variables for dependency injection/mocking in tests.
var (
	osWriteFile = os.WriteFile
	// Allows mocking os.Exit in tests.
	osExit = os.Exit
)

func main() {
	defer handlePanic()

	// SIGINT and SIGTERM cancel the running task; an attached browser stays open.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	osExit(run(ctx, os.Args[1:]))
}

// run executes the command line and maps the outcome to an exit code. With
// no arguments the interactive shell starts.
func run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		args = []string{"shell"}
	}
	if err := cmd.Execute(ctx, args); err != nil {
		if errors.Is(err, context.Canceled) {
			return 0
		}
		return 1
	}
	return 0
}

// handlePanic records an unexpected crash in panic.log before exiting.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()

		panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := osWriteFile(panicLogFile, []byte(panicMessage), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
			fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
			osExit(1)
			return
		}

		fmt.Fprintf(os.Stderr, "\nwebtrail crashed. Details logged to %s\n", panicLogFile)
		osExit(2)
	}
}
