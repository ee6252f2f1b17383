// internal/agent/session.go
package agent

import (
	"github.com/google/uuid"

	"github.com/xkilldash9x/webtrail/internal/dataset"
)

// uuidNewString is a package variable so tests can pin run ids.
var uuidNewString = uuid.NewString

// RunSink persists one session's screenshots and metadata.
type RunSink interface {
	SaveScreenshot(c dataset.Capture) (dataset.Screenshot, error)
	Finalize(o dataset.Outcome) (*dataset.Metadata, error)
	Dir() string
	Count() int
}

// SinkFactory opens the dataset run for a session.
type SinkFactory func(runID, appName, taskName string) (RunSink, error)

// DatasetSinks stores runs under baseDir.
func DatasetSinks(baseDir string) SinkFactory {
	return func(runID, appName, taskName string) (RunSink, error) {
		run, err := dataset.NewRun(baseDir, runID, appName, taskName)
		if err != nil {
			return nil, err
		}
		return run, nil
	}
}

// session is the state of one ExecuteTask call.
type session struct {
	runID       string
	instruction string
	info        dataset.TaskInfo
	sink        RunSink
	history     History
	state       AgentState
	escalations int
	summary     string
	err         error
}

func (s *session) status() string {
	if s.state == StateFailed {
		return dataset.StatusFailed
	}
	return dataset.StatusCompleted
}

func (s *session) result() *TaskResult {
	r := &TaskResult{
		RunID:       s.runID,
		Instruction: s.instruction,
		AppName:     s.info.AppName,
		URL:         s.info.URL,
		Task:        s.info.Task,
		State:       s.state,
		Status:      s.status(),
		Steps:       s.history.Len(),
		Escalations: s.escalations,
		Summary:     s.summary,
		History:     s.history.Records(),
		Err:         s.err,
	}
	if s.sink != nil {
		r.Screenshots = s.sink.Count()
		r.DatasetDir = s.sink.Dir()
	}
	return r
}
