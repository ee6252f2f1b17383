// internal/llmclient/resilient.go
package llmclient

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

// permanentError marks a provider failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error { return &permanentError{err: err} }

// isRetryable reports whether err is worth another attempt. HTTP 429 and 5xx
// responses and transport failures are; everything else is not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *permanentError
	if errors.As(err, &pe) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if code, ok := statusCode(err); ok {
		return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
	}
	return true
}

func statusCode(err error) (int, bool) {
	var oaiErr *openai.Error
	if errors.As(err, &oaiErr) {
		return oaiErr.StatusCode, true
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode, true
	}
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}
	return 0, false
}

// ResilientClient wraps an oracle with per attempt timeouts, rate limiting
// and exponential backoff on transient failures.
type ResilientClient struct {
	inner          schemas.Oracle
	limiter        *rate.Limiter
	timeout        time.Duration
	maxRetries     int
	backoffFactory func() backoff.BackOff
	logger         *zap.Logger
}

// NewResilientClient wraps inner according to cfg.
func NewResilientClient(inner schemas.Oracle, cfg config.LLMConfig, logger *zap.Logger) *ResilientClient {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	return &ResilientClient{
		inner:      inner,
		limiter:    rate.NewLimiter(limit, 1),
		timeout:    cfg.APITimeout,
		maxRetries: cfg.MaxRetries,
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		logger: logger.Named("llm_client"),
	}
}

// Generate calls the wrapped oracle, retrying transient errors.
func (c *ResilientClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	var response string
	attempt := 0

	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		out, err := c.inner.Generate(attemptCtx, req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !isRetryable(err) {
				c.logger.Error("LLM request failed.", zap.Int("attempt", attempt), zap.Error(err))
				return backoff.Permanent(err)
			}
			c.logger.Warn("Transient LLM error, retrying...", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		response = out
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.backoffFactory(), uint64(max(c.maxRetries, 0))), ctx)
	if err := backoff.Retry(operation, b); err != nil {
		return "", err
	}
	return response, nil
}

// Close closes the wrapped oracle.
func (c *ResilientClient) Close() error { return c.inner.Close() }
