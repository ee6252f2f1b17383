// internal/agent/translator.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/dataset"
	"github.com/xkilldash9x/webtrail/internal/dom"
	"github.com/xkilldash9x/webtrail/internal/llmutil"
)

// ErrNoURL is returned when an instruction names no website to start from.
var ErrNoURL = errors.New("instruction does not name a website")

// DecisionInput is everything the oracle sees for one decision.
type DecisionInput struct {
	Task     string
	Step     int
	MaxSteps int
	Table    *dom.Table
	URL      string
	// History is the rendered, already bounded action history.
	History string
	// Screenshot is attached when non-empty and the oracle accepts images.
	Screenshot []byte
}

// TranslatorOptions configures a Translator.
type TranslatorOptions struct {
	Temperature    float32
	MaxElements    int
	SupportsVision bool
	DefaultCapture CaptureMode
}

// Translator turns oracle responses into instructions and actions. Decide never
// fails: anything it cannot turn into an action becomes a wait.
type Translator struct {
	oracle schemas.Oracle
	opts   TranslatorOptions
	logger *zap.Logger
}

// NewTranslator creates a translator over the given oracle.
func NewTranslator(oracle schemas.Oracle, opts TranslatorOptions, logger *zap.Logger) *Translator {
	if opts.DefaultCapture == "" {
		opts.DefaultCapture = CapturePost
	}
	if opts.MaxElements <= 0 {
		opts.MaxElements = 50
	}
	return &Translator{
		oracle: oracle,
		opts:   opts,
		logger: logger.Named("translator"),
	}
}

// SupportsVision reports whether screenshots are forwarded to the oracle.
func (t *Translator) SupportsVision() bool { return t.opts.SupportsVision }

// ParseInstruction extracts the app, start URL and task. When the oracle is
// unavailable or its answer unusable, the first URL-like token of the
// instruction is used instead.
func (t *Translator) ParseInstruction(ctx context.Context, instruction string) (dataset.TaskInfo, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return dataset.TaskInfo{}, errors.New("instruction is empty")
	}

	resp, err := t.oracle.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: parseSystemPrompt,
		UserPrompt:   generateParsePrompt(instruction),
		Options: schemas.GenerationOptions{
			Temperature:     t.opts.Temperature,
			ForceJSONFormat: true,
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return dataset.TaskInfo{}, ctx.Err()
		}
		t.logger.Warn("Instruction parsing via oracle failed, falling back to local extraction.", zap.Error(err))
		return fallbackTaskInfo(instruction)
	}

	parsed, err := llmutil.ParseJSONResponse[dataset.TaskInfo](resp)
	if err != nil || strings.TrimSpace(parsed.URL) == "" {
		t.logger.Warn("Oracle returned an unusable instruction parse, falling back to local extraction.",
			zap.Error(err), zap.String("response", llmutil.Truncate(resp, 200)))
		return fallbackTaskInfo(instruction)
	}

	info := dataset.TaskInfo{
		AppName: strings.TrimSpace(parsed.AppName),
		Task:    strings.TrimSpace(parsed.Task),
	}
	u, err := normalizeURL(parsed.URL)
	if err != nil {
		t.logger.Warn("Oracle returned an invalid URL, falling back to local extraction.",
			zap.String("url", parsed.URL), zap.Error(err))
		return fallbackTaskInfo(instruction)
	}
	info.URL = u
	if info.AppName == "" {
		info.AppName = appNameFromURL(u)
	}
	if info.Task == "" {
		info.Task = instruction
	}
	return info, nil
}

var (
	urlToken    = regexp.MustCompile(`(?i)\b((?:https?://)?(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}(?::\d+)?(?:/[^\s]*)?)`)
	leadingVerb = regexp.MustCompile(`(?i)^(?:open|go to|goto|navigate to|visit|on|at|in)\b\s*`)
	leadingJoin = regexp.MustCompile(`(?i)^(?:(?:and|then)\b|,)\s*`)
	spaces      = regexp.MustCompile(`\s+`)
)

func fallbackTaskInfo(instruction string) (dataset.TaskInfo, error) {
	loc := urlToken.FindStringIndex(instruction)
	if loc == nil {
		return dataset.TaskInfo{}, fmt.Errorf("%w: %q", ErrNoURL, instruction)
	}
	u, err := normalizeURL(instruction[loc[0]:loc[1]])
	if err != nil {
		return dataset.TaskInfo{}, fmt.Errorf("%w: %v", ErrNoURL, err)
	}

	task := instruction[:loc[0]] + " " + instruction[loc[1]:]
	task = spaces.ReplaceAllString(strings.TrimSpace(task), " ")
	task = strings.TrimSpace(leadingVerb.ReplaceAllString(task, ""))
	task = strings.TrimSpace(leadingJoin.ReplaceAllString(task, ""))
	if task == "" {
		task = instruction
	}

	return dataset.TaskInfo{AppName: appNameFromURL(u), URL: u, Task: task}, nil
}

// normalizeURL adds the https scheme when missing and requires a host.
func normalizeURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), ".,;")
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	return u.String(), nil
}

// appNameFromURL returns the label left of the public suffix, e.g. "notion"
// for https://www.notion.so.
func appNameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	if i := strings.Index(etld1, "."); i > 0 {
		return etld1[:i]
	}
	return etld1
}

// Decide asks the oracle for the next action.
func (t *Translator) Decide(ctx context.Context, in DecisionInput) Decision {
	withImage := t.opts.SupportsVision && len(in.Screenshot) > 0
	req := schemas.GenerationRequest{
		SystemPrompt: generateSystemPrompt(t.opts.MaxElements),
		UserPrompt:   generateUserPrompt(in, withImage),
		Options: schemas.GenerationOptions{
			Temperature:     t.opts.Temperature,
			ForceJSONFormat: true,
		},
	}
	if withImage {
		req.Image = in.Screenshot
	}

	var generation uint64
	if in.Table != nil {
		generation = in.Table.Generation
	}

	resp, err := t.oracle.Generate(ctx, req)
	if err != nil {
		t.logger.Warn("Oracle request failed, waiting instead.", zap.Int("step", in.Step), zap.Error(err))
		return t.waitDecision("oracle request failed")
	}

	decision, err := t.parseDecision(resp, generation)
	if err != nil {
		t.logger.Warn("Could not translate oracle response, waiting instead.",
			zap.Int("step", in.Step),
			zap.Error(err),
			zap.String("response", llmutil.Truncate(resp, 300)))
		return t.waitDecision(err.Error())
	}
	return decision
}

func (t *Translator) waitDecision(reason string) Decision {
	return Decision{
		Action:   Action{Kind: ActionWait, Capture: t.opts.DefaultCapture},
		Thinking: reason,
	}
}

func (t *Translator) parseDecision(resp string, generation uint64) (Decision, error) {
	parsed, err := llmutil.ParseJSONResponse[map[string]any](resp)
	if err != nil {
		return Decision{}, err
	}
	m := *parsed

	d := Decision{
		Thinking:   stringField(m, "thinking"),
		Evaluation: stringField(m, "evaluation_previous_goal"),
		Memory:     stringField(m, "memory"),
		NextGoal:   stringField(m, "next_goal"),
	}

	var action Action
	switch raw := m["action"].(type) {
	case []any:
		if len(raw) == 0 {
			return Decision{}, errors.New("response contains no action")
		}
		obj, ok := raw[0].(map[string]any)
		if !ok {
			return Decision{}, fmt.Errorf("unexpected action entry of type %T", raw[0])
		}
		action, err = parseActionObject(obj, &d)
	case map[string]any:
		action, err = parseActionObject(raw, &d)
	case string:
		action, err = parseFlatAction(raw, m, &d)
	case nil:
		return Decision{}, errors.New("response has no action field")
	default:
		return Decision{}, fmt.Errorf("unexpected action field of type %T", raw)
	}
	if err != nil {
		return Decision{}, err
	}

	if action.Target != nil {
		action.Target.Generation = generation
	}
	if action.Capture == "" {
		action.Capture = t.opts.DefaultCapture
	}
	d.Action = action
	return d, nil
}

// actionKeys lists the nested action names in the order they are tried when a
// single object carries more than one.
var actionKeys = [][]string{
	{"done", "stop"},
	{"input_text", "type", "input"},
	{"click_element", "click"},
}

// parseActionObject handles the nested {"click_element": {"index": 3}} form.
func parseActionObject(obj map[string]any, d *Decision) (Action, error) {
	for _, names := range actionKeys {
		for _, name := range names {
			rawParams, ok := obj[name]
			if !ok {
				continue
			}
			params, _ := rawParams.(map[string]any)
			switch names[0] {
			case "click_element":
				return targetAction(ActionClick, params)
			case "input_text":
				a, err := targetAction(ActionTypeText, params)
				if err != nil {
					return Action{}, err
				}
				a.Text = stringField(params, "text")
				a.PressEnter = boolField(params, "press_enter")
				return a, nil
			case "done":
				d.Summary = stringField(params, "text")
				d.Success = boolField(params, "success")
				return Action{Kind: ActionStop, Capture: CaptureNone}, nil
			}
		}
	}
	return Action{}, fmt.Errorf("no known action in %v", keys(obj))
}

// parseFlatAction salvages {"action": "click", "index": 3}.
func parseFlatAction(name string, m map[string]any, d *Decision) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "click", "click_element":
		return targetAction(ActionClick, m)
	case "input", "input_text", "type":
		a, err := targetAction(ActionTypeText, m)
		if err != nil {
			return Action{}, err
		}
		a.Text = stringField(m, "text")
		a.PressEnter = boolField(m, "press_enter")
		return a, nil
	case "done", "stop":
		d.Summary = stringField(m, "text")
		d.Success = boolField(m, "success")
		return Action{Kind: ActionStop, Capture: CaptureNone}, nil
	}
	return Action{}, fmt.Errorf("unknown flat action %q", name)
}

func targetAction(kind ActionKind, params map[string]any) (Action, error) {
	idx, err := parseIndex(params["index"])
	if err != nil {
		return Action{}, fmt.Errorf("%s: %w", kind, err)
	}
	return Action{Kind: kind, Target: &ElementRef{Index: idx}}, nil
}

// parseIndex accepts 3, 3.0, "3" and "[3]".
func parseIndex(v any) (int, error) {
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("index %v is not an integer", x)
		}
		return int(x), nil
	case string:
		s := strings.TrimSpace(x)
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(s, "["), "]"))
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("index %q is not a number", x)
		}
		return n, nil
	case nil:
		return 0, errors.New("missing index")
	}
	return 0, fmt.Errorf("index has unexpected type %T", v)
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func boolField(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
