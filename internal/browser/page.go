// internal/browser/page.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/dom"
)

var _ schemas.PageController = (*Page)(nil)

// Page drives a single Chrome tab through chromedp.
type Page struct {
	tabCtx         context.Context
	viewportWidth  int
	viewportHeight int
	logger         *zap.Logger
}

func newPage(tabCtx context.Context, width, height int, logger *zap.Logger) *Page {
	return &Page{
		tabCtx:         tabCtx,
		viewportWidth:  width,
		viewportHeight: height,
		logger:         logger.Named("page"),
	}
}

// run executes actions in the tab, bounded by ctx.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.tabCtx, ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w (%v)", ctxErr, err)
		}
		if p.tabCtx.Err() != nil {
			return fmt.Errorf("browser tab is closed: %w", err)
		}
		return err
	}
	return nil
}

// Navigate loads url and returns as soon as DOMContentLoaded fires or the
// load completes, whichever comes first.
func (p *Page) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := CombineContext(p.tabCtx, ctx)
	defer cancel()

	domReady := make(chan struct{})
	var fired bool
	chromedp.ListenTarget(runCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventDomContentEventFired); ok && !fired {
			fired = true
			close(domReady)
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(runCtx, chromedp.Navigate(url))
	}()

	select {
	case err := <-done:
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("navigation to %s timed out: %w", url, ctx.Err())
			}
			return fmt.Errorf("navigation to %s failed: %w", url, err)
		}
	case <-domReady:
		p.logger.Debug("DOMContentLoaded reached.", zap.String("url", url))
	}
	return nil
}

// WaitVisible blocks until the element is visible.
func (p *Page) WaitVisible(ctx context.Context, locator string) error {
	return p.run(ctx, chromedp.WaitVisible(dom.JSPath(locator), chromedp.ByJSPath))
}

// Click clicks the element. A forced click is dispatched from script.
func (p *Page) Click(ctx context.Context, locator string, force bool) error {
	if force {
		return p.Evaluate(ctx, dom.ForceClickScript, nil, locator)
	}
	return p.run(ctx, chromedp.Click(dom.JSPath(locator), chromedp.ByJSPath))
}

// Fill clears the field and types text into it.
func (p *Page) Fill(ctx context.Context, locator, text string) error {
	if err := p.Evaluate(ctx, dom.ClearFieldScript, nil, locator); err != nil {
		return fmt.Errorf("failed to clear field: %w", err)
	}
	return p.run(ctx, chromedp.SendKeys(dom.JSPath(locator), text, chromedp.ByJSPath))
}

// PressEnter sends Enter to the element.
func (p *Page) PressEnter(ctx context.Context, locator string) error {
	return p.run(ctx, chromedp.SendKeys(dom.JSPath(locator), kb.Enter, chromedp.ByJSPath))
}

// ScrollIntoView scrolls the element into the viewport.
func (p *Page) ScrollIntoView(ctx context.Context, locator string) error {
	return p.run(ctx, chromedp.ScrollIntoView(dom.JSPath(locator), chromedp.ByJSPath))
}

// ScrollBy dispatches a mouse wheel event at the viewport center.
func (p *Page) ScrollBy(ctx context.Context, dx, dy float64) error {
	x, y := float64(p.viewportWidth)/2, float64(p.viewportHeight)/2
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, x, y).
			WithDeltaX(dx).
			WithDeltaY(dy).
			Do(ctx)
	}))
}

// Screenshot captures the visible viewport as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// CurrentURL returns the document URL.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

// Evaluate calls the function expression fn with JSON-encoded args. Promises
// are awaited and the result is decoded into res.
func (p *Page) Evaluate(ctx context.Context, fn string, res any, args ...any) error {
	encoded := make([]string, 0, len(args))
	for _, a := range args {
		b, err := json.ConfigCompatibleWithStandardLibrary.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode script argument: %w", err)
		}
		encoded = append(encoded, string(b))
	}
	expr := fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", "))

	if res == nil {
		var discard []byte
		res = &discard
	}
	err := p.run(ctx, chromedp.Evaluate(expr, res, func(ep *runtime.EvaluateParams) *runtime.EvaluateParams {
		return ep.WithAwaitPromise(true)
	}))
	if err != nil {
		var exc *runtime.ExceptionDetails
		if errors.As(err, &exc) {
			return fmt.Errorf("script raised an exception: %s", exc.Error())
		}
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}
