// internal/agent/executor.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/dom"
)

// ElementResolver maps an element reference to its locator in the current table.
type ElementResolver interface {
	Resolve(index int, generation uint64) (dom.IndexedElement, error)
}

// ExecutionResult reports the outcome of one action.
type ExecutionResult struct {
	Success       bool
	URL           string
	IsSearchField bool
	Locator       string
	ErrorCode     ErrorCode
	Err           error
}

// actionHandler applies one kind of action. It fills res and returns the
// error that failed the action, if any.
type actionHandler func(ctx context.Context, action *Action, res *ExecutionResult) error

// Executor applies actions to a page with bounded timeouts.
type Executor struct {
	page       schemas.PageController
	elements   ElementResolver
	cfg        config.ExecutorConfig
	navTimeout time.Duration
	logger     *zap.Logger
	handlers   map[ActionKind]actionHandler
}

// sleep waits for d or until ctx is done. Tests replace it.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NewExecutor creates an executor resolving element references through elements.
func NewExecutor(page schemas.PageController, elements ElementResolver, cfg config.ExecutorConfig, navTimeout time.Duration, logger *zap.Logger) *Executor {
	e := &Executor{
		page:       page,
		elements:   elements,
		cfg:        cfg,
		navTimeout: navTimeout,
		logger:     logger.Named("executor"),
		handlers:   make(map[ActionKind]actionHandler),
	}
	e.registerHandlers()
	return e
}

func (e *Executor) registerHandlers() {
	e.handlers[ActionClick] = e.handleClick
	e.handlers[ActionTypeText] = e.handleType
	e.handlers[ActionNavigate] = e.handleNavigate
	e.handlers[ActionWait] = e.handleWait
	e.handlers[ActionScroll] = e.handleScroll
	e.handlers[ActionStop] = e.handleStop
}

// Execute applies action to the page. Failures, including panics inside a
// handler, are reported in the result and never escape.
func (e *Executor) Execute(ctx context.Context, action *Action) (res ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Action handler panicked.", zap.String("action", string(action.Kind)), zap.Any("panic", r), zap.Stack("stack"))
			res = ExecutionResult{
				ErrorCode: ErrCodeExecutorPanic,
				Err:       fmt.Errorf("executor panic during %s: %v", action.Kind, r),
			}
		}
	}()

	handler, ok := e.handlers[action.Kind]
	if !ok {
		return ExecutionResult{
			ErrorCode: ErrCodeUnknownAction,
			Err:       fmt.Errorf("no handler for action type: %q", action.Kind),
		}
	}

	if err := handler(ctx, action, &res); err != nil {
		res.Success = false
		res.Err = err
		if res.ErrorCode == "" {
			res.ErrorCode = ParseBrowserError(err)
		}
		e.logger.Debug("Action failed.",
			zap.String("action", action.Describe()),
			zap.String("error_code", string(res.ErrorCode)),
			zap.Error(err))
		return res
	}

	res.Success = true
	res.URL = e.currentURL(ctx)
	return res
}

func (e *Executor) currentURL(ctx context.Context) string {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
	defer cancel()
	u, err := e.page.CurrentURL(opCtx)
	if err != nil {
		e.logger.Debug("Could not read current URL.", zap.Error(err))
		return ""
	}
	return u
}

// resolve maps the action's target to an element of the current table.
func (e *Executor) resolve(action *Action, res *ExecutionResult) (dom.IndexedElement, error) {
	if action.Target == nil {
		res.ErrorCode = ErrCodeInvalidParameters
		return dom.IndexedElement{}, fmt.Errorf("%s requires an element index", action.Kind)
	}
	el, err := e.elements.Resolve(action.Target.Index, action.Target.Generation)
	if err != nil {
		res.ErrorCode = ParseBrowserError(err)
		return dom.IndexedElement{}, err
	}
	res.Locator = el.Locator
	return el, nil
}

// withTimeout runs op under its own deadline derived from ctx.
func withTimeout(ctx context.Context, d time.Duration, op func(context.Context) error) error {
	if d <= 0 {
		return op(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return op(opCtx)
}

func (e *Executor) handleClick(ctx context.Context, action *Action, res *ExecutionResult) error {
	el, err := e.resolve(action, res)
	if err != nil {
		return err
	}

	if err := withTimeout(ctx, e.cfg.VisibilityTimeout, func(c context.Context) error {
		return e.page.WaitVisible(c, el.Locator)
	}); err != nil {
		return fmt.Errorf("element [%d] %s never became visible: %w", el.Index, el.Locator, err)
	}

	clickErr := withTimeout(ctx, e.cfg.ActionTimeout, func(c context.Context) error {
		return e.page.Click(c, el.Locator, false)
	})
	if clickErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Debug("Normal click failed, forcing.", zap.String("locator", el.Locator), zap.Error(clickErr))
		if err := withTimeout(ctx, e.cfg.ActionTimeout, func(c context.Context) error {
			return e.page.Click(c, el.Locator, true)
		}); err != nil {
			return fmt.Errorf("click on [%d] %s failed: %w", el.Index, el.Locator, errors.Join(clickErr, err))
		}
	}

	return sleep(ctx, e.cfg.ClickSettle)
}

func (e *Executor) handleType(ctx context.Context, action *Action, res *ExecutionResult) error {
	el, err := e.resolve(action, res)
	if err != nil {
		return err
	}

	if err := withTimeout(ctx, e.cfg.VisibilityTimeout, func(c context.Context) error {
		return e.page.WaitVisible(c, el.Locator)
	}); err != nil {
		return fmt.Errorf("input [%d] %s never became visible: %w", el.Index, el.Locator, err)
	}

	var isSearch bool
	if err := withTimeout(ctx, e.cfg.EvaluateTimeout, func(c context.Context) error {
		return e.page.Evaluate(c, dom.SearchFieldProbeScript, &isSearch, el.Locator)
	}); err != nil {
		e.logger.Debug("Search field probe failed, assuming a plain input.", zap.String("locator", el.Locator), zap.Error(err))
		isSearch = false
	}
	action.IsSearchField = isSearch
	res.IsSearchField = isSearch

	if err := withTimeout(ctx, e.cfg.ActionTimeout, func(c context.Context) error {
		return e.page.Fill(c, el.Locator, action.Text)
	}); err != nil {
		return fmt.Errorf("typing into [%d] %s failed: %w", el.Index, el.Locator, err)
	}

	if !isSearch && !action.PressEnter {
		return sleep(ctx, e.cfg.TypeSettle)
	}

	if err := withTimeout(ctx, e.cfg.ActionTimeout, func(c context.Context) error {
		return e.page.PressEnter(c, el.Locator)
	}); err != nil {
		return fmt.Errorf("submitting [%d] %s failed: %w", el.Index, el.Locator, err)
	}
	e.logger.Debug("Submitted input with Enter.", zap.String("locator", el.Locator), zap.Bool("search_field", isSearch))
	return sleep(ctx, e.cfg.SearchSettle)
}

func (e *Executor) handleNavigate(ctx context.Context, action *Action, res *ExecutionResult) error {
	if action.URL == "" {
		res.ErrorCode = ErrCodeInvalidParameters
		return errors.New("navigate requires a URL")
	}
	if err := withTimeout(ctx, e.navTimeout, func(c context.Context) error {
		return e.page.Navigate(c, action.URL)
	}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", action.URL, err)
	}
	return sleep(ctx, e.cfg.NavigateSettle)
}

func (e *Executor) handleWait(ctx context.Context, action *Action, res *ExecutionResult) error {
	if action.Target == nil {
		d := action.Duration
		if d <= 0 {
			d = e.cfg.WaitDuration
		}
		return sleep(ctx, d)
	}

	el, err := e.resolve(action, res)
	if err != nil {
		return err
	}
	return withTimeout(ctx, e.cfg.WaitTimeout, func(c context.Context) error {
		return e.page.WaitVisible(c, el.Locator)
	})
}

func (e *Executor) handleScroll(ctx context.Context, action *Action, res *ExecutionResult) error {
	if action.Target != nil {
		el, err := e.resolve(action, res)
		if err != nil {
			return err
		}
		if err := withTimeout(ctx, e.cfg.ActionTimeout, func(c context.Context) error {
			return e.page.ScrollIntoView(c, el.Locator)
		}); err != nil {
			return fmt.Errorf("scrolling to [%d] %s failed: %w", el.Index, el.Locator, err)
		}
		return sleep(ctx, e.cfg.ScrollSettle)
	}

	distance := action.Distance
	if distance == 0 {
		distance = e.cfg.ScrollDistance
	}
	if err := withTimeout(ctx, e.cfg.ActionTimeout, func(c context.Context) error {
		return e.page.ScrollBy(c, 0, float64(distance))
	}); err != nil {
		return fmt.Errorf("scrolling by %dpx failed: %w", distance, err)
	}
	return sleep(ctx, e.cfg.ScrollSettle)
}

func (e *Executor) handleStop(context.Context, *Action, *ExecutionResult) error {
	return nil
}
