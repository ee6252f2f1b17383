// internal/browser/context.go
package browser

import (
	"context"
)

// CombineContext returns a context that carries the values of tabCtx (the
// chromedp target information) and is canceled when either tabCtx or opCtx is
// done. Page operations take their deadline from opCtx.
func CombineContext(tabCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(tabCtx)
	if deadline, ok := opCtx.Deadline(); ok {
		// Carry the operation deadline so chromedp reports DeadlineExceeded.
		var cancelDeadline context.CancelFunc
		combinedCtx, cancelDeadline = context.WithDeadline(combinedCtx, deadline)
		inner := cancel
		cancel = func() {
			cancelDeadline()
			inner()
		}
	}

	stop := context.AfterFunc(opCtx, cancel)
	return combinedCtx, func() {
		stop()
		cancel()
	}
}
