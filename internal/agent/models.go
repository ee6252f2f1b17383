// internal/agent/models.go
package agent

import (
	"fmt"
	"strings"
	"time"
)

// AgentState represents the phase of the task loop. Transitions are logged at
// debug level; terminal states cannot be left.
type AgentState string

const (
	StateInit            AgentState = "INIT"              // Parsing the instruction and opening the start page.
	StateExtracting      AgentState = "EXTRACTING"        // Indexing the interactive elements of the page.
	StateDeciding        AgentState = "DECIDING"          // Waiting for the oracle to pick the next action.
	StateExecuting       AgentState = "EXECUTING"         // Applying the action to the page.
	StateRetryWithVision AgentState = "RETRY_WITH_VISION" // A blind attempt failed; the step is repeated with a screenshot.
	StateRecording       AgentState = "RECORDING"         // Appending history and capturing the resulting state.
	StateDone            AgentState = "DONE"              // The oracle declared the task complete.
	StateAborted         AgentState = "ABORTED"           // The step budget ran out.
	StateFailed          AgentState = "FAILED"            // A fatal error ended the session.
)

// IsTerminal reports whether the loop stops in this state.
func (s AgentState) IsTerminal() bool {
	return s == StateDone || s == StateAborted || s == StateFailed
}

// ActionKind is the closed vocabulary of actions the loop can execute.
type ActionKind string

const (
	ActionClick    ActionKind = "click"    // Clicks an indexed element.
	ActionTypeText ActionKind = "type"     // Clears and fills an indexed input.
	ActionNavigate ActionKind = "navigate" // Loads a URL.
	ActionWait     ActionKind = "wait"     // Waits for an element or a fixed duration.
	ActionScroll   ActionKind = "scroll"   // Scrolls an element into view or the viewport by a distance.
	ActionStop     ActionKind = "stop"     // Declares the task complete.
)

// CaptureMode controls when screenshots are taken around an action.
type CaptureMode string

const (
	CaptureNone CaptureMode = "none"
	CapturePost CaptureMode = "post"
	CaptureBoth CaptureMode = "both"
)

// ParseCaptureMode maps a configuration value to a CaptureMode.
func ParseCaptureMode(s string) (CaptureMode, bool) {
	switch CaptureMode(strings.ToLower(strings.TrimSpace(s))) {
	case CaptureNone:
		return CaptureNone, true
	case CapturePost:
		return CapturePost, true
	case CaptureBoth:
		return CaptureBoth, true
	}
	return "", false
}

// ElementRef addresses an element of a specific extraction.
type ElementRef struct {
	Index      int    `json:"index"`
	Generation uint64 `json:"generation"`
}

// Action is a single decided step. Which fields are meaningful depends on Kind.
type Action struct {
	Kind       ActionKind    `json:"action"`
	Target     *ElementRef   `json:"target,omitempty"`
	Text       string        `json:"text,omitempty"`
	URL        string        `json:"url,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Distance   int           `json:"distance,omitempty"`
	PressEnter bool          `json:"press_enter,omitempty"`
	Capture    CaptureMode   `json:"capture"`
	// IsSearchField is set by the executor after probing a type target.
	IsSearchField bool `json:"is_search_field,omitempty"`
}

// Describe renders the action for logs and history.
func (a Action) Describe() string {
	ref := ""
	if a.Target != nil {
		ref = fmt.Sprintf(" [%d]", a.Target.Index)
	}
	switch a.Kind {
	case ActionClick:
		return "click" + ref
	case ActionTypeText:
		return fmt.Sprintf("type %q into%s", a.Text, ref)
	case ActionNavigate:
		return "navigate to " + a.URL
	case ActionWait:
		if a.Target != nil {
			return "wait for" + ref
		}
		return "wait"
	case ActionScroll:
		if a.Target != nil {
			return "scroll to" + ref
		}
		return "scroll"
	case ActionStop:
		return "stop"
	}
	return string(a.Kind)
}

// Decision is the translator's output: one action plus the oracle's narrative.
type Decision struct {
	Action     Action
	Thinking   string
	Evaluation string
	Memory     string
	NextGoal   string
	// Summary and Success come from a done action.
	Summary string
	Success bool
}

// StepRecord is one entry of the action history. Records are never mutated
// once appended.
type StepRecord struct {
	Step       int    `json:"step"`
	Action     Action `json:"action"`
	Thinking   string `json:"thinking,omitempty"`
	Evaluation string `json:"evaluation_previous_goal,omitempty"`
	Memory     string `json:"memory,omitempty"`
	NextGoal   string `json:"next_goal,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	UsedVision bool   `json:"used_vision"`
	Locator    string `json:"locator,omitempty"`
	URL        string `json:"url,omitempty"`
}

// History is the ordered, append-only list of recorded steps.
type History struct {
	records []StepRecord
}

// Append adds a record to the end of the history.
func (h *History) Append(r StepRecord) {
	h.records = append(h.records, r)
}

// Len returns the number of recorded steps.
func (h *History) Len() int { return len(h.records) }

// Records returns a copy of all records.
func (h *History) Records() []StepRecord {
	return append([]StepRecord{}, h.records...)
}

// Render formats the most recent window entries for the prompt.
func (h *History) Render(window int) string {
	if len(h.records) == 0 || window <= 0 {
		return "None yet"
	}
	recent := h.records
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}

	var sb strings.Builder
	for i, r := range recent {
		summary := r.NextGoal
		if summary == "" {
			summary = r.Action.Describe()
		}
		status := ""
		if !r.Success {
			status = " (failed)"
		}
		fmt.Fprintf(&sb, "  %d. %s: %s%s\n", i+1, r.Action.Kind, summary, status)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TaskResult summarises one executed instruction.
type TaskResult struct {
	RunID       string
	Instruction string
	AppName     string
	URL         string
	Task        string
	State       AgentState
	Status      string
	Steps       int
	Screenshots int
	// Escalations counts blind failures retried with vision.
	Escalations int
	// Summary is the oracle's closing text when the task finished with done.
	Summary     string
	DatasetDir  string
	History     []StepRecord
	Err         error
}
