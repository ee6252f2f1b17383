// File: cmd/webtrail/main_test.go
package main

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	t.Run("writes the panic log", func(t *testing.T) {
		var written string
		var code int
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = string(data)
			return nil
		}
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Contains(t, written, "panic: boom")
		assert.Contains(t, written, "goroutine")
		assert.Equal(t, 2, code)
	})

	t.Run("falls back to stderr when the log cannot be written", func(t *testing.T) {
		var code int
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only filesystem") }
		osExit = func(c int) { code = c }

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, 1, code)
	})

	t.Run("does nothing without a panic", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		assert.False(t, called)
	})
}

func TestRunExitCodes(t *testing.T) {
	t.Run("version succeeds", func(t *testing.T) {
		assert.Equal(t, 0, run(context.Background(), []string{"version"}))
	})

	t.Run("unknown command fails", func(t *testing.T) {
		assert.Equal(t, 1, run(context.Background(), []string{"no-such-command"}))
	})
}
