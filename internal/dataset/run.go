// internal/dataset/run.go
package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
)

// Run statuses written to metadata.json.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const (
	screenshotsDir = "screenshots"
	metadataFile   = "metadata.json"
	timeLayout     = "20060102_150405"
)

// ErrFinalized is returned when a run is written to after Finalize.
var ErrFinalized = errors.New("dataset run already finalized")

// TaskInfo is the parsed form of an instruction.
type TaskInfo struct {
	AppName string `json:"app_name"`
	URL     string `json:"url"`
	Task    string `json:"task"`
}

// Screenshot describes one saved image.
type Screenshot struct {
	Filename    string    `json:"filename"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	CapturedAt  time.Time `json:"captured_at"`
	Path        string    `json:"path"`
	Action      string    `json:"action,omitempty"`
	Selector    string    `json:"selector,omitempty"`
}

// Capture is the input to SaveScreenshot.
type Capture struct {
	Label       string
	Description string
	URL         string
	Action      string
	Selector    string
	PNG         []byte
}

// Metadata is the document written to metadata.json.
type Metadata struct {
	RunID            string       `json:"run_id"`
	TaskName         string       `json:"task_name"`
	AppName          string       `json:"app_name"`
	Timestamp        string       `json:"timestamp"`
	CreatedAt        time.Time    `json:"created_at"`
	Screenshots      []Screenshot `json:"screenshots"`
	Instruction      string       `json:"instruction"`
	TaskInfo         TaskInfo     `json:"task_info"`
	ActionHistory    any          `json:"action_history"`
	TotalScreenshots int          `json:"total_screenshots"`
	CompletedAt      time.Time    `json:"completed_at"`
	Status           string       `json:"status"`
	Error            string       `json:"error,omitempty"`
}

// Outcome carries the end-of-session fields of the metadata.
type Outcome struct {
	Instruction string
	TaskInfo    TaskInfo
	History     any
	Status      string
	Err         error
}

// Run is one task's dataset directory. It is safe for concurrent use.
type Run struct {
	mu          sync.Mutex
	runID       string
	appName     string
	taskName    string
	timestamp   string
	createdAt   time.Time
	dir         string
	shotsDir    string
	screenshots []Screenshot
	finalized   bool
}

var now = time.Now

// NewRun creates <baseDir>/<app>/<task>_<timestamp>/screenshots.
func NewRun(baseDir, runID, appName, taskName string) (*Run, error) {
	created := now()
	ts := created.Format(timeLayout)
	dir := filepath.Join(baseDir, Sanitize(appName), Sanitize(taskName)+"_"+ts)
	shots := filepath.Join(dir, screenshotsDir)
	if err := os.MkdirAll(shots, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dataset directory %s: %w", shots, err)
	}
	return &Run{
		runID:     runID,
		appName:   appName,
		taskName:  taskName,
		timestamp: ts,
		createdAt: created,
		dir:       dir,
		shotsDir:  shots,
	}, nil
}

// Dir is the run's root directory.
func (r *Run) Dir() string { return r.dir }

// Count returns the number of screenshots saved so far.
func (r *Run) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.screenshots)
}

// Screenshots returns a copy of the saved screenshot records.
func (r *Run) Screenshots() []Screenshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Screenshot(nil), r.screenshots...)
}

// SaveScreenshot writes the image as <label>.png. Labels follow the
// NN_description convention, e.g. 00_initial or 03_after_click.
func (r *Run) SaveScreenshot(c Capture) (Screenshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return Screenshot{}, ErrFinalized
	}

	name := Sanitize(c.Label)
	filename := name + ".png"
	path := filepath.Join(r.shotsDir, filename)
	if err := os.WriteFile(path, c.PNG, 0o644); err != nil {
		return Screenshot{}, fmt.Errorf("failed to write screenshot %s: %w", filename, err)
	}

	shot := Screenshot{
		Filename:    filename,
		Name:        name,
		Description: c.Description,
		URL:         c.URL,
		CapturedAt:  now(),
		Path:        filepath.Join(screenshotsDir, filename),
		Action:      c.Action,
		Selector:    c.Selector,
	}
	r.screenshots = append(r.screenshots, shot)
	return shot, nil
}

// Finalize writes metadata.json. It may be called once.
func (r *Run) Finalize(o Outcome) (*Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return nil, ErrFinalized
	}

	md := &Metadata{
		RunID:            r.runID,
		TaskName:         r.taskName,
		AppName:          r.appName,
		Timestamp:        r.timestamp,
		CreatedAt:        r.createdAt,
		Screenshots:      append([]Screenshot{}, r.screenshots...),
		Instruction:      o.Instruction,
		TaskInfo:         o.TaskInfo,
		ActionHistory:    o.History,
		TotalScreenshots: len(r.screenshots),
		CompletedAt:      now(),
		Status:           o.Status,
	}
	if md.Status == "" {
		md.Status = StatusCompleted
	}
	if o.Err != nil {
		md.Error = o.Err.Error()
	}
	if md.ActionHistory == nil {
		md.ActionHistory = []any{}
	}

	data, err := json.ConfigCompatibleWithStandardLibrary.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.dir, metadataFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write metadata: %w", err)
	}
	r.finalized = true
	return md, nil
}

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_-]+`)
	underscores = regexp.MustCompile(`_{2,}`)
)

// Sanitize turns a free-form name into a lower-case path segment.
func Sanitize(name string) string {
	s := unsafeChars.ReplaceAllString(name, "_")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "untitled"
	}
	return strings.ToLower(s)
}

// LoadMetadata reads metadata.json from a run directory.
func LoadMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, err
	}
	var md Metadata
	if err := json.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &md, nil
}
