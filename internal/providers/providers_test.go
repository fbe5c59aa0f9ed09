package providers

import (
	"encoding/json"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kestrelai/core/internal/agent"
	"github.com/kestrelai/core/internal/models"
)

func TestNewProvidersRequireAPIKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Error("anthropic provider built without an API key")
	}
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Error("openai provider built without an API key")
	}
}

func TestFromConfig(t *testing.T) {
	anthropicCfg := AnthropicConfig{APIKey: "k"}
	openaiCfg := OpenAIConfig{APIKey: "k"}

	p, err := FromConfig("anthropic", anthropicCfg, openaiCfg)
	if err != nil || p.Name() != "anthropic" {
		t.Errorf("anthropic: %v / %v", p, err)
	}
	p, err = FromConfig("", anthropicCfg, openaiCfg)
	if err != nil || p.Name() != "anthropic" {
		t.Errorf("default: %v / %v", p, err)
	}
	p, err = FromConfig("openai", anthropicCfg, openaiCfg)
	if err != nil || p.Name() != "openai" {
		t.Errorf("openai: %v / %v", p, err)
	}
	if _, err := FromConfig("mystery", anthropicCfg, openaiCfg); err == nil {
		t.Error("unknown provider accepted")
	}
}

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: models.RoleUser, Content: "hi"},
		{
			Role:    models.RoleAssistant,
			Content: "calling a tool",
			ToolCalls: []models.ToolCall{
				{CorrelationID: "tc1", Name: "web_search", Params: json.RawMessage(`{"q":"x"}`)},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{CorrelationID: "tc1", Success: true, Result: `{"hits":3}`},
			},
		},
	}

	out := convertOpenAIMessages(messages, "sys prompt")

	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "sys prompt" {
		t.Errorf("system message missing: %+v", out[0])
	}
	if out[1].Role != openai.ChatMessageRoleUser {
		t.Errorf("user message: %+v", out[1])
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "web_search" {
		t.Errorf("assistant tool calls: %+v", out[2])
	}
	if out[3].Role != openai.ChatMessageRoleTool || out[3].ToolCallID != "tc1" {
		t.Errorf("tool result message: %+v", out[3])
	}
}

func TestConvertOpenAIMessagesFailedResultUsesError(t *testing.T) {
	out := convertOpenAIMessages([]agent.CompletionMessage{
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{CorrelationID: "tc1", Success: false, Error: "not found"},
			},
		},
	}, "")
	if out[0].Content != "not found" {
		t.Errorf("failed result content %q", out[0].Content)
	}
}

func TestConvertAnthropicMessagesSkipsSystemRole(t *testing.T) {
	out, err := convertAnthropicMessages([]agent.CompletionMessage{
		{Role: models.RoleSystem, Content: "system stuff"},
		{Role: models.RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(out) != 1 {
		t.Errorf("got %d messages, want the system turn dropped", len(out))
	}
}

func TestConvertAnthropicToolsRejectsBadSchema(t *testing.T) {
	_, err := convertAnthropicTools([]models.ToolDefinition{
		{Name: "broken", ParameterSchema: json.RawMessage(`not json`)},
	})
	if err == nil {
		t.Error("malformed schema accepted")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("429 Too Many Requests"), true},
		{errors.New("rate_limit_error"), true},
		{errors.New("503 Service Unavailable"), true},
		{errors.New("context deadline exceeded"), true},
		{errors.New("connection reset by peer"), true},
		{errors.New("401 Unauthorized"), false},
		{errors.New("invalid request"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := isRetryableError(tt.err); got != tt.want {
			t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
