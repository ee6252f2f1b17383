// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Executor() config.ExecutorConfig {
	args := m.Called()
	return args.Get(0).(config.ExecutorConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Dataset() config.DatasetConfig {
	args := m.Called()
	return args.Get(0).(config.DatasetConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

// --- Setters ---

func (m *MockConfig) SetBrowserHeadless(b bool)           { m.Called(b) }
func (m *MockConfig) SetBrowserConnectExisting(b bool)    { m.Called(b) }
func (m *MockConfig) SetAgentMaxSteps(n int)              { m.Called(n) }
func (m *MockConfig) SetLLMProvider(p config.LLMProvider) { m.Called(p) }
func (m *MockConfig) SetLLMModel(model string)            { m.Called(model) }
func (m *MockConfig) SetDatasetDir(dir string)            { m.Called(dir) }

// -- Oracle Mock --

// MockOracle mocks the schemas.Oracle interface.
type MockOracle struct {
	mock.Mock
}

// Generate provides a mock function for LLM calls.
func (m *MockOracle) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockOracle) Close() error {
	return m.Called().Error(0)
}

// -- Page Controller Mock --

// MockPageController mocks schemas.PageController.
type MockPageController struct {
	mock.Mock
}

func (m *MockPageController) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func (m *MockPageController) WaitVisible(ctx context.Context, locator string) error {
	return m.Called(ctx, locator).Error(0)
}

func (m *MockPageController) Click(ctx context.Context, locator string, force bool) error {
	return m.Called(ctx, locator, force).Error(0)
}

func (m *MockPageController) Fill(ctx context.Context, locator, text string) error {
	return m.Called(ctx, locator, text).Error(0)
}

func (m *MockPageController) PressEnter(ctx context.Context, locator string) error {
	return m.Called(ctx, locator).Error(0)
}

func (m *MockPageController) ScrollIntoView(ctx context.Context, locator string) error {
	return m.Called(ctx, locator).Error(0)
}

func (m *MockPageController) ScrollBy(ctx context.Context, dx, dy float64) error {
	return m.Called(ctx, dx, dy).Error(0)
}

func (m *MockPageController) Screenshot(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	var png []byte
	if v := args.Get(0); v != nil {
		png = v.([]byte)
	}
	return png, args.Error(1)
}

func (m *MockPageController) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// Evaluate records the call; a function passed as the first return value is
// invoked with res so tests can fill in the decoded result.
func (m *MockPageController) Evaluate(ctx context.Context, fn string, res any, args ...any) error {
	callArgs := m.Called(ctx, fn, res, args)
	if fill, ok := callArgs.Get(0).(func(res any)); ok {
		fill(res)
		return callArgs.Error(1)
	}
	return callArgs.Error(0)
}
