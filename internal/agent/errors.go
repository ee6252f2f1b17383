// internal/agent/errors.go
package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/xkilldash9x/webtrail/internal/dom"
)

// ErrorCode is a string type used for structured error reporting from the
// action executor. Using a custom type ensures that only predefined constants
// can be used where an ErrorCode is expected.
type ErrorCode string

const (
	// -- General Execution Errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"

	// -- Browser/DOM Errors --
	ErrCodeElementNotFound ErrorCode = "ELEMENT_NOT_FOUND"
	// ErrCodeStaleIndex means the action referenced an element table that has
	// since been replaced by a newer extraction.
	ErrCodeStaleIndex      ErrorCode = "STALE_INDEX"
	ErrCodeTimeoutError    ErrorCode = "TIMEOUT_ERROR"
	ErrCodeNavigationError ErrorCode = "NAVIGATION_ERROR"

	// -- Internal System Errors --
	ErrCodeExecutorPanic ErrorCode = "EXECUTOR_PANIC"
)

// ParseBrowserError classifies an error returned by the page controller.
// Sentinel errors from the indexer are checked first, then the heuristics on
// the message text that CDP errors require.
func ParseBrowserError(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, dom.ErrStaleIndex):
		return ErrCodeStaleIndex
	case errors.Is(err, dom.ErrIndexOutOfRange):
		return ErrCodeElementNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeoutError
	}

	errStr := err.Error()
	if strings.Contains(errStr, "element not found") || strings.Contains(errStr, "no element found") || strings.Contains(errStr, "could not find node") {
		return ErrCodeElementNotFound
	}
	if strings.Contains(errStr, "timeout") {
		return ErrCodeTimeoutError
	}
	if strings.Contains(errStr, "net::ERR") {
		return ErrCodeNavigationError
	}
	return ErrCodeExecutionFailure
}
