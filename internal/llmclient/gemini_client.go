// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/webtrail/api/schemas"
	"github.com/xkilldash9x/webtrail/internal/config"
)

// GeminiClient talks to the Gemini API through the genai SDK.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*GeminiClient, error) {
	apiKey := cfg.ResolvedAPIKey()
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini %w (set GEMINI_API_KEY)", ErrMissingAPIKey)
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{},
	}
	if cfg.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:    client,
		model:     cfg.ResolvedModel(),
		maxTokens: cfg.MaxTokens,
		logger:    logger.Named("llm_client.gemini"),
	}, nil
}

// Generate sends one request and returns the text of the first candidate.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.UserPrompt)}
	if len(req.Image) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Image, "image/png"))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	startTime := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, c.buildConfig(req))
	duration := time.Since(startTime)
	if err != nil {
		return "", fmt.Errorf("gemini API error: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", permanent(fmt.Errorf("gemini API returned no candidates"))
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
			return "", permanent(fmt.Errorf("gemini API blocked the request (Reason: %s)", candidate.FinishReason))
		}
		return "", fmt.Errorf("gemini API returned empty content parts (Reason: %s)", candidate.FinishReason)
	}

	fields := []zap.Field{zap.Duration("duration", duration)}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount),
		)
	}
	c.logger.Info("LLM generation complete (Gemini)", fields...)

	return resp.Text(), nil
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Options.Temperature),
	}
	if req.SystemPrompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		gc.ResponseMIMEType = "application/json"
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	if maxTokens > 0 {
		gc.MaxOutputTokens = int32(maxTokens)
	}
	return gc
}

// Close is a no-op; the SDK client holds no resources beyond its HTTP client.
func (c *GeminiClient) Close() error { return nil }
