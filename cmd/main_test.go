// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/agent"
	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/dataset"
	"github.com/xkilldash9x/webtrail/internal/store"
)

// -- Fake Agent --

type fakeAgent struct {
	mu           sync.Mutex
	instructions []string
	run          func(ctx context.Context, instruction string) (*agent.TaskResult, error)
}

func (f *fakeAgent) ExecuteTask(ctx context.Context, instruction string) (*agent.TaskResult, error) {
	f.mu.Lock()
	f.instructions = append(f.instructions, instruction)
	f.mu.Unlock()
	if f.run != nil {
		return f.run(ctx, instruction)
	}
	return completedResult(instruction), nil
}

func (f *fakeAgent) Instructions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.instructions...)
}

func completedResult(instruction string) *agent.TaskResult {
	return &agent.TaskResult{
		RunID:       "run-1",
		Instruction: instruction,
		AppName:     "example",
		URL:         "https://example.com",
		Task:        instruction,
		State:       agent.StateDone,
		Status:      dataset.StatusCompleted,
		Steps:       2,
		Screenshots: 2,
		Summary:     "searched for cats",
		DatasetDir:  "dataset/example/search_for_cats_20250101_120000",
	}
}

type fakeAgentProvider struct {
	agent   *fakeAgent
	err     error
	cfg     config.Interface
	cleaned bool
}

func (p *fakeAgentProvider) Create(_ context.Context, cfg config.Interface, _ *zap.Logger) (taskExecutor, func(), error) {
	p.cfg = cfg
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.agent, func() { p.cleaned = true }, nil
}

// -- Fake Store --

type fakeRunLister struct {
	runs []store.RunSummary
	err  error
}

func (f *fakeRunLister) RecentRuns(_ context.Context, limit int) ([]store.RunSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.runs) > limit {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

type fakeStoreProvider struct {
	lister  *fakeRunLister
	err     error
	cleaned bool
}

func (p *fakeStoreProvider) Create(context.Context, config.Interface) (runLister, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	return p.lister, func() { p.cleaned = true }, nil
}

// -- Command Helpers --

// newTestRootCmd builds the command tree over fakes, isolated from any
// webtrail.yaml or .env in the working directory.
func newTestRootCmd(t *testing.T, agents agentProvider, stores storeProvider, in io.Reader) *cobra.Command {
	t.Helper()
	t.Chdir(t.TempDir())
	if agents == nil {
		agents = &fakeAgentProvider{agent: &fakeAgent{}}
	}
	if stores == nil {
		stores = &fakeStoreProvider{lister: &fakeRunLister{}}
	}
	if in == nil {
		in = strings.NewReader("")
	}
	return newRootCmd(agents, stores, in)
}

// executeCommand runs root with args and returns everything it printed.
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}
