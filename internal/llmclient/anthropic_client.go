// internal/llmclient/anthropic_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

const defaultAnthropicMaxTokens = 1024

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicClient initializes the client.
func NewAnthropicClient(cfg config.LLMConfig, logger *zap.Logger) (*AnthropicClient, error) {
	apiKey := cfg.ResolvedAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic %w (set ANTHROPIC_API_KEY)", ErrMissingAPIKey)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.ResolvedModel(),
		maxTokens: maxTokens,
		logger:    logger.Named("llm_client.anthropic"),
	}, nil
}

// Generate sends one message and joins the text blocks of the reply.
func (c *AnthropicClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	startTime := time.Now()
	resp, err := c.client.Messages.New(ctx, c.buildParams(req))
	duration := time.Since(startTime)
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", permanent(fmt.Errorf("anthropic API returned no text (stop reason: %s)", resp.StopReason))
	}

	c.logger.Info("LLM generation complete (Anthropic)",
		zap.Duration("duration", duration),
		zap.Int64("prompt_tokens", resp.Usage.InputTokens),
		zap.Int64("completion_tokens", resp.Usage.OutputTokens),
	)
	return sb.String(), nil
}

func (c *AnthropicClient) buildParams(req schemas.GenerationRequest) anthropic.MessageNewParams {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(req.UserPrompt)}
	if len(req.Image) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(req.Image)))
	}

	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		Temperature: anthropic.Float(float64(req.Options.Temperature)),
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}
	return params
}

// Close is a no-op.
func (c *AnthropicClient) Close() error { return nil }
