// internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/dataset"
	"github.com/xkilldash9x/webtrail/internal/dom"
	"github.com/xkilldash9x/webtrail/internal/llmutil"
	"github.com/xkilldash9x/webtrail/internal/perception"
)

// ElementSource extracts element tables and resolves references against the
// most recent one.
type ElementSource interface {
	ElementResolver
	Extract(ctx context.Context) (*dom.Table, error)
}

// Decider parses instructions and picks actions.
type Decider interface {
	ParseInstruction(ctx context.Context, instruction string) (dataset.TaskInfo, error)
	Decide(ctx context.Context, in DecisionInput) Decision
	SupportsVision() bool
}

// ActionRunner applies actions to the page.
type ActionRunner interface {
	Execute(ctx context.Context, action *Action) ExecutionResult
}

// StateTracker deduplicates screenshots within a task.
type StateTracker interface {
	IsNewState(png []byte, forceSave bool) (bool, error)
	Reset()
}

// RunRecorder indexes finalized runs, e.g. in a database.
type RunRecorder interface {
	RecordRun(ctx context.Context, dir string, md *dataset.Metadata) error
}

const recordTimeout = 10 * time.Second

// Agent drives the browser through one instruction at a time: it observes the
// page, asks the oracle for an action, executes it and keeps screenshots of
// every new UI state it reaches.
type Agent struct {
	page       schemas.PageController
	elements   ElementSource
	translator Decider
	executor   ActionRunner
	tracker    StateTracker
	newSink    SinkFactory
	recorder   RunRecorder
	logger     *zap.Logger

	maxSteps          int
	historyWindow     int
	navTimeout        time.Duration
	initialSettle     time.Duration
	screenshotTimeout time.Duration

	// runMu serializes sessions; the tracker and index table belong to the
	// running one.
	runMu sync.Mutex

	stateMu sync.RWMutex
	state   AgentState
}

// Option customizes an Agent.
type Option func(*Agent)

// WithRecorder indexes every finalized run with r.
func WithRecorder(r RunRecorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithSinkFactory overrides where runs are stored.
func WithSinkFactory(f SinkFactory) Option {
	return func(a *Agent) { a.newSink = f }
}

// New assembles an agent over page and oracle from the configuration.
func New(page schemas.PageController, oracle schemas.Oracle, cfg config.Interface, logger *zap.Logger, opts ...Option) *Agent {
	agentCfg := cfg.Agent()
	execCfg := cfg.Executor()
	netCfg := cfg.Network()

	capture, ok := ParseCaptureMode(agentCfg.CaptureMode)
	if !ok {
		capture = CapturePost
	}

	indexer := dom.NewIndexer(page, agentCfg.MaxElements, execCfg.EvaluateTimeout, logger)
	a := &Agent{
		page:     page,
		elements: indexer,
		translator: NewTranslator(oracle, TranslatorOptions{
			Temperature:    agentCfg.LLM.Temperature,
			MaxElements:    agentCfg.MaxElements,
			SupportsVision: agentCfg.LLM.SupportsVision(),
			DefaultCapture: capture,
		}, logger),
		executor:          NewExecutor(page, indexer, execCfg, netCfg.NavigationTimeout, logger),
		tracker:           perception.NewTracker(agentCfg.SimilarityThreshold, agentCfg.HashSize, logger),
		newSink:           DatasetSinks(cfg.Dataset().Dir),
		logger:            logger.Named("agent"),
		maxSteps:          agentCfg.MaxSteps,
		historyWindow:     agentCfg.HistoryWindow,
		navTimeout:        netCfg.NavigationTimeout,
		initialSettle:     netCfg.InitialSettle,
		screenshotTimeout: execCfg.ScreenshotTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the phase of the running (or last) session.
func (a *Agent) State() AgentState {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	return a.state
}

// transition moves the loop to a new state. Terminal states are only left
// for FAILED, when flushing the run fails after the loop ended.
func (a *Agent) transition(s *session, to AgentState) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	from := s.state
	if from == to {
		return
	}
	if from.IsTerminal() && to != StateFailed {
		a.logger.Warn("Ignoring transition out of terminal state.", zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	s.state = to
	a.state = to
	a.logger.Debug("Agent state transition.", zap.String("run_id", s.runID), zap.String("from", string(from)), zap.String("to", string(to)))
}

// ExecuteTask runs one instruction to completion. The returned result is never
// nil; the error is set when the session FAILED. Metadata is written in every
// case where the dataset directory could be created.
func (a *Agent) ExecuteTask(ctx context.Context, instruction string) (*TaskResult, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	s := &session{runID: uuidNewString(), instruction: instruction}
	a.transition(s, StateInit)
	a.tracker.Reset()

	info, parseErr := a.translator.ParseInstruction(ctx, instruction)
	if parseErr != nil {
		info = dataset.TaskInfo{AppName: "unknown", Task: instruction}
	}
	s.info = info

	sink, err := a.newSink(s.runID, info.AppName, info.Task)
	if err != nil {
		s.err = fmt.Errorf("failed to create dataset run: %w", err)
		a.transition(s, StateFailed)
		a.logger.Error("Task failed.", zap.String("run_id", s.runID), zap.Error(s.err))
		return s.result(), s.err
	}
	s.sink = sink

	if parseErr != nil {
		s.err = fmt.Errorf("failed to parse instruction: %w", parseErr)
	} else {
		s.err = a.run(ctx, s)
	}
	return a.finish(ctx, s)
}

func (a *Agent) run(ctx context.Context, s *session) error {
	logger := a.logger.With(zap.String("run_id", s.runID))
	logger.Info("Starting task.",
		zap.String("app", s.info.AppName),
		zap.String("url", s.info.URL),
		zap.String("task", s.info.Task))

	if err := withTimeout(ctx, a.navTimeout, func(c context.Context) error {
		return a.page.Navigate(c, s.info.URL)
	}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", s.info.URL, err)
	}
	if err := sleep(ctx, a.initialSettle); err != nil {
		return cancelled(err)
	}
	if err := a.capture(ctx, s, captureSpec{label: "00_initial", description: "Initial page load", force: true}); err != nil {
		return err
	}

	useVision := false
	escalated := false
	for step := 1; step <= a.maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		a.transition(s, StateExtracting)
		table, err := a.elements.Extract(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(ctx.Err())
			}
			logger.Warn("Continuing without interactive elements.", zap.Int("step", step), zap.Error(err))
		}
		currentURL := a.currentURL(ctx, table)

		var shot []byte
		if a.translator.SupportsVision() && (step == 1 || useVision) {
			if shot, err = a.screenshot(ctx); err != nil {
				logger.Warn("Screenshot for the oracle failed, deciding from the DOM only.", zap.Int("step", step), zap.Error(err))
				shot = nil
			}
		}
		usedVision := len(shot) > 0
		useVision = false

		a.transition(s, StateDeciding)
		d := a.translator.Decide(ctx, DecisionInput{
			Task:       s.info.Task,
			Step:       step,
			MaxSteps:   a.maxSteps,
			Table:      table,
			URL:        currentURL,
			History:    s.history.Render(a.historyWindow),
			Screenshot: shot,
		})
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		logger.Info("Step decided.",
			zap.Int("step", step),
			zap.String("action", d.Action.Describe()),
			zap.Bool("vision", usedVision),
			zap.String("thinking", d.Thinking),
			zap.String("evaluation", d.Evaluation),
			zap.String("memory", d.Memory),
			zap.String("next_goal", d.NextGoal))

		if d.Action.Kind == ActionStop {
			s.summary = d.Summary
			a.transition(s, StateDone)
			logger.Info("Task complete.", zap.Int("step", step), zap.String("summary", d.Summary), zap.Bool("success", d.Success))
			return nil
		}

		if d.Action.Capture == CaptureBoth {
			if err := a.capture(ctx, s, captureSpec{
				label:       fmt.Sprintf("%02d_before_%s", step, d.Action.Kind),
				description: "Before: " + describeStep(d),
				url:         currentURL,
				action:      string(d.Action.Kind),
			}); err != nil {
				return err
			}
		}

		a.transition(s, StateExecuting)
		res := a.executor.Execute(ctx, &d.Action)
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}

		if !res.Success && !usedVision && !escalated {
			a.transition(s, StateRetryWithVision)
			logger.Info("Blind attempt failed, retrying the step with vision.",
				zap.Int("step", step),
				zap.String("error_code", string(res.ErrorCode)),
				zap.Error(res.Err))
			s.escalations++
			escalated = true
			useVision = true
			step--
			continue
		}
		escalated = false

		a.transition(s, StateRecording)
		record := StepRecord{
			Step:       step,
			Action:     d.Action,
			Thinking:   d.Thinking,
			Evaluation: d.Evaluation,
			Memory:     d.Memory,
			NextGoal:   d.NextGoal,
			Success:    res.Success,
			UsedVision: usedVision,
			Locator:    res.Locator,
			URL:        res.URL,
		}
		if res.Err != nil {
			record.Error = res.Err.Error()
			record.ErrorCode = string(res.ErrorCode)
			logger.Warn("Step failed.", zap.Int("step", step), zap.String("error_code", string(res.ErrorCode)), zap.Error(res.Err))
		}
		s.history.Append(record)

		if res.Success && (d.Action.Capture == CapturePost || d.Action.Capture == CaptureBoth) {
			if err := a.capture(ctx, s, captureSpec{
				label:       fmt.Sprintf("%02d_after_%s", step, d.Action.Kind),
				description: describeStep(d),
				url:         res.URL,
				action:      string(d.Action.Kind),
				selector:    res.Locator,
			}); err != nil {
				return err
			}
		}
	}

	a.transition(s, StateAborted)
	logger.Warn("Step budget exhausted before the task was declared done.", zap.Int("max_steps", a.maxSteps))
	return nil
}

// finish flushes metadata and indexes the run.
func (a *Agent) finish(ctx context.Context, s *session) (*TaskResult, error) {
	logger := a.logger.With(zap.String("run_id", s.runID))
	if s.err != nil {
		a.transition(s, StateFailed)
	}

	md, err := s.sink.Finalize(dataset.Outcome{
		Instruction: s.instruction,
		TaskInfo:    s.info,
		History:     s.history.Records(),
		Status:      s.status(),
		Err:         s.err,
	})
	if err != nil {
		s.err = errors.Join(s.err, fmt.Errorf("failed to write metadata: %w", err))
		a.transition(s, StateFailed)
		logger.Error("Task failed.", zap.Error(s.err))
		return s.result(), s.err
	}

	if a.recorder != nil {
		recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		if err := a.recorder.RecordRun(recCtx, s.sink.Dir(), md); err != nil {
			logger.Warn("Failed to index run.", zap.Error(err))
		}
		cancel()
	}

	if s.err != nil {
		logger.Error("Task failed.", zap.String("dir", s.sink.Dir()), zap.Error(s.err))
		return s.result(), s.err
	}
	logger.Info("Task finished.",
		zap.String("state", string(s.state)),
		zap.Int("steps", s.history.Len()),
		zap.Int("screenshots", md.TotalScreenshots),
		zap.String("dir", s.sink.Dir()))
	return s.result(), nil
}

type captureSpec struct {
	label       string
	description string
	url         string
	action      string
	selector    string
	force       bool
}

// capture screenshots the page and saves it when the tracker reports a new
// state. Only persistence and cancellation errors are returned.
func (a *Agent) capture(ctx context.Context, s *session, c captureSpec) error {
	logger := a.logger.With(zap.String("run_id", s.runID), zap.String("label", c.label))

	png, err := a.screenshot(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		logger.Warn("Screenshot failed, skipping capture.", zap.Error(err))
		return nil
	}

	isNew, err := a.tracker.IsNewState(png, c.force)
	if err != nil {
		logger.Warn("Could not fingerprint screenshot.", zap.Error(err))
		isNew = c.force
	}
	if !isNew {
		logger.Debug("Screenshot shows a known state, not saved.")
		return nil
	}

	if c.url == "" {
		c.url = a.currentURL(ctx, nil)
	}
	shot, err := s.sink.SaveScreenshot(dataset.Capture{
		Label:       c.label,
		Description: c.description,
		URL:         c.url,
		Action:      c.action,
		Selector:    c.selector,
		PNG:         png,
	})
	if err != nil {
		return fmt.Errorf("failed to persist screenshot %s: %w", c.label, err)
	}
	logger.Info("Saved screenshot.", zap.String("file", shot.Filename), zap.Int("total", s.sink.Count()))
	return nil
}

func (a *Agent) screenshot(ctx context.Context) ([]byte, error) {
	var png []byte
	err := withTimeout(ctx, a.screenshotTimeout, func(c context.Context) error {
		var err error
		png, err = a.page.Screenshot(c)
		return err
	})
	return png, err
}

// currentURL asks the page, falling back to the URL seen by the extraction.
func (a *Agent) currentURL(ctx context.Context, table *dom.Table) string {
	var u string
	err := withTimeout(ctx, a.screenshotTimeout, func(c context.Context) error {
		var err error
		u, err = a.page.CurrentURL(c)
		return err
	})
	if err != nil && table != nil {
		return table.URL
	}
	return u
}

func describeStep(d Decision) string {
	if d.NextGoal != "" {
		return d.NextGoal
	}
	if d.Thinking != "" {
		return llmutil.Truncate(d.Thinking, 50)
	}
	return d.Action.Describe()
}

func cancelled(err error) error {
	return fmt.Errorf("task cancelled: %w", err)
}
