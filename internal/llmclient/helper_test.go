package llmclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

// MockOracle is a mock implementation of the Oracle interface for testing.
type MockOracle struct {
	mock.Mock
}

// Generate mocks the Generate method.
func (m *MockOracle) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// Close mocks the Close method.
func (m *MockOracle) Close() error {
	return m.Called().Error(0)
}

// setupTestLogger is a helper to create a zap logger for testing with an observer.
func setupTestLogger(t *testing.T) (*zap.Logger, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// getValidLLMConfig returns a valid LLMConfig for testing purposes.
func getValidLLMConfig(provider config.LLMProvider) config.LLMConfig {
	return config.LLMConfig{
		Provider:    provider,
		APIKey:      "test-api-key",
		Model:       "test-model",
		APITimeout:  5 * time.Second,
		Temperature: 0.3,
		MaxTokens:   256,
		MaxRetries:  2,
	}
}

// createTestRequest provides a standard generation request structure.
func createTestRequest() schemas.GenerationRequest {
	return schemas.GenerationRequest{
		SystemPrompt: "System prompt instructions.",
		UserPrompt:   "User query.",
		Options: schemas.GenerationOptions{
			Temperature:     0.3,
			ForceJSONFormat: true,
		},
	}
}

// tinyPNG is a valid 1x1 PNG.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}
