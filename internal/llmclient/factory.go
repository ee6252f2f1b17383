// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

// ErrMissingAPIKey is returned when no key is configured for the provider.
var ErrMissingAPIKey = errors.New("API Key is required")

// NewClient is a factory function that creates an oracle based on the
// configuration. The provider client is wrapped with retries and rate limiting.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (schemas.Oracle, error) {
	var (
		inner schemas.Oracle
		err   error
	)

	switch cfg.Provider {
	case config.ProviderGemini:
		inner, err = NewGeminiClient(ctx, cfg, logger)
	case config.ProviderOpenAI, config.ProviderGroq:
		inner, err = NewOpenAIClient(cfg, logger)
	case config.ProviderAnthropic:
		inner, err = NewAnthropicClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s, %s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderOpenAI, config.ProviderGroq, config.ProviderAnthropic)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("LLM client ready.",
		zap.String("provider", string(cfg.Provider)),
		zap.String("model", cfg.ResolvedModel()),
		zap.Bool("vision", cfg.SupportsVision()),
	)
	return NewResilientClient(inner, cfg, logger), nil
}
