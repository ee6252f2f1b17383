package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/config"
)

func newFastResilient(t *testing.T, inner *MockOracle, maxRetries int) (*ResilientClient, func() int) {
	t.Helper()
	logger, logs := setupTestLogger(t)
	cfg := getValidLLMConfig(config.ProviderOpenAI)
	cfg.MaxRetries = maxRetries
	cfg.APITimeout = time.Second

	c := NewResilientClient(inner, cfg, logger)
	c.backoffFactory = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c, func() int { return logs.FilterLevelExact(zap.WarnLevel).Len() }
}

func TestResilient_RetriesTransientErrors(t *testing.T) {
	inner := new(MockOracle)
	inner.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("connection reset")).Twice()
	inner.On("Generate", mock.Anything, mock.Anything).Return("ok", nil).Once()

	c, warnings := newFastResilient(t, inner, 2)
	out, err := c.Generate(context.Background(), createTestRequest())

	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, warnings())
	inner.AssertNumberOfCalls(t, "Generate", 3)
}

func TestResilient_GivesUpAfterMaxRetries(t *testing.T) {
	inner := new(MockOracle)
	inner.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	c, _ := newFastResilient(t, inner, 1)
	_, err := c.Generate(context.Background(), createTestRequest())

	assert.EqualError(t, err, "timeout")
	inner.AssertNumberOfCalls(t, "Generate", 2)
}

func TestResilient_PermanentErrorsAreNotRetried(t *testing.T) {
	inner := new(MockOracle)
	inner.On("Generate", mock.Anything, mock.Anything).Return("", permanent(errors.New("blocked")))

	c, _ := newFastResilient(t, inner, 3)
	_, err := c.Generate(context.Background(), createTestRequest())

	assert.EqualError(t, err, "blocked")
	inner.AssertNumberOfCalls(t, "Generate", 1)
}

func TestResilient_EachAttemptHasDeadline(t *testing.T) {
	inner := new(MockOracle)
	inner.On("Generate", mock.MatchedBy(func(ctx context.Context) bool {
		deadline, ok := ctx.Deadline()
		return ok && time.Until(deadline) <= time.Second
	}), mock.Anything).Return("ok", nil)

	c, _ := newFastResilient(t, inner, 0)
	_, err := c.Generate(context.Background(), createTestRequest())
	require.NoError(t, err)
	inner.AssertExpectations(t)
}

func TestResilient_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := new(MockOracle)
	inner.On("Generate", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return("", errors.New("aborted"))

	c, _ := newFastResilient(t, inner, 5)
	_, err := c.Generate(ctx, createTestRequest())

	assert.ErrorIs(t, err, context.Canceled)
	inner.AssertNumberOfCalls(t, "Generate", 1)
}

func TestResilient_RateLimiterSpacesRequests(t *testing.T) {
	inner := new(MockOracle)
	inner.On("Generate", mock.Anything, mock.Anything).Return("ok", nil)

	logger, _ := setupTestLogger(t)
	cfg := getValidLLMConfig(config.ProviderOpenAI)
	cfg.RequestsPerMinute = 600 // one every 100ms
	c := NewResilientClient(inner, cfg, logger)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Generate(context.Background(), createTestRequest())
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestResilient_Close(t *testing.T) {
	inner := new(MockOracle)
	inner.On("Close").Return(nil).Once()
	c, _ := newFastResilient(t, inner, 0)
	require.NoError(t, c.Close())
	inner.AssertExpectations(t)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.False(t, isRetryable(context.Canceled))
	assert.False(t, isRetryable(permanent(errors.New("x"))))
	assert.True(t, isRetryable(errors.New("dial tcp: connection refused")))
	assert.True(t, isRetryable(context.DeadlineExceeded), "a slow attempt may succeed on retry")
}
