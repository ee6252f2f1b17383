// internal/llmclient/openai_client.go
package llmclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

// OpenAIClient serves OpenAI and any OpenAI compatible API such as Groq.
type OpenAIClient struct {
	client    openai.Client
	name      string
	model     string
	maxTokens int
	vision    bool
	logger    *zap.Logger
}

// NewOpenAIClient initializes the client. Groq uses its own endpoint and
// never receives images.
func NewOpenAIClient(cfg config.LLMConfig, logger *zap.Logger) (*OpenAIClient, error) {
	name := string(cfg.Provider)
	apiKey := cfg.ResolvedAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("%s %w", name, ErrMissingAPIKey)
	}

	endpoint := cfg.Endpoint
	if endpoint == "" && cfg.Provider == config.ProviderGroq {
		endpoint = config.GroqEndpoint
	}

	// Retries are owned by the resilient wrapper.
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}

	return &OpenAIClient{
		client:    openai.NewClient(opts...),
		name:      name,
		model:     cfg.ResolvedModel(),
		maxTokens: cfg.MaxTokens,
		vision:    cfg.SupportsVision(),
		logger:    logger.Named("llm_client." + name),
	}, nil
}

// Generate sends one chat completion request.
func (c *OpenAIClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	startTime := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, c.buildParams(req))
	duration := time.Since(startTime)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", permanent(fmt.Errorf("%s API returned no choices", c.name))
	}

	c.logger.Info("LLM generation complete",
		zap.String("provider", c.name),
		zap.Duration("duration", duration),
		zap.Int64("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int64("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int64("total_tokens", resp.Usage.TotalTokens),
	)
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) buildParams(req schemas.GenerationRequest) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}

	if c.vision && len(req.Image) > 0 {
		dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Image)
		messages = append(messages, openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(req.UserPrompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    dataURI,
				Detail: "low",
			}),
		}))
	} else {
		messages = append(messages, openai.UserMessage(req.UserPrompt))
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(float64(req.Options.Temperature)),
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxTokens))
	}
	if req.Options.ForceJSONFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

// Close is a no-op.
func (c *OpenAIClient) Close() error { return nil }
