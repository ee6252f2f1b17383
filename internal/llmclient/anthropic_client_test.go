package llmclient

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webtrail/internal/config"
)

const anthropicMessageBody = `{
	"id": "msg_1",
	"type": "message",
	"role": "assistant",
	"model": "test-model",
	"content": [
		{"type": "text", "text": "{\"action\":"},
		{"type": "text", "text": "\"done\"}"}
	],
	"stop_reason": "end_turn",
	"usage": {"input_tokens": 40, "output_tokens": 8}
}`

func TestAnthropicClient_Generate(t *testing.T) {
	srv, last, _ := captureServer(t, http.StatusOK, anthropicMessageBody)
	logger, _ := setupTestLogger(t)

	cfg := getValidLLMConfig(config.ProviderAnthropic)
	cfg.Endpoint = srv.URL
	client, err := NewAnthropicClient(cfg, logger)
	require.NoError(t, err)

	req := createTestRequest()
	req.Image = tinyPNG
	out, err := client.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, `{"action":"done"}`, out, "text blocks are concatenated")

	body := *last
	assert.Equal(t, "/v1/messages", body["__path"])
	assert.Equal(t, float64(256), body["max_tokens"])

	system := body["system"].([]any)
	assert.Equal(t, "System prompt instructions.", system[0].(map[string]any)["text"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	image := content[1].(map[string]any)
	assert.Equal(t, "image", image["type"])
	assert.Equal(t, "image/png", image["source"].(map[string]any)["media_type"])
}

func TestAnthropicClient_EmptyReplyIsPermanent(t *testing.T) {
	srv, _, _ := captureServer(t, http.StatusOK, `{"id":"m","type":"message","role":"assistant","content":[],"stop_reason":"max_tokens","usage":{"input_tokens":1,"output_tokens":0}}`)
	logger, _ := setupTestLogger(t)

	cfg := getValidLLMConfig(config.ProviderAnthropic)
	cfg.Endpoint = srv.URL
	client, err := NewAnthropicClient(cfg, logger)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.False(t, isRetryable(err))
}

func TestAnthropicClient_OverloadedIsRetryable(t *testing.T) {
	srv, _, _ := captureServer(t, 529, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	logger, _ := setupTestLogger(t)

	cfg := getValidLLMConfig(config.ProviderAnthropic)
	cfg.Endpoint = srv.URL
	client, err := NewAnthropicClient(cfg, logger)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), createTestRequest())
	require.Error(t, err)
	assert.True(t, isRetryable(err))
}
