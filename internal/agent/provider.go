package agent

import (
	"context"

	"github.com/kestrelai/core/internal/models"
)

// CompletionMessage is one entry in the request sent to a Provider.
type CompletionMessage struct {
	Role        models.TurnRole     `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionRequest is the full request passed to Provider.Stream.
type CompletionRequest struct {
	Model     string                    `json:"model"`
	System    string                    `json:"system,omitempty"`
	Messages  []CompletionMessage       `json:"messages"`
	Tools     []models.ToolDefinition   `json:"tools,omitempty"`
	MaxTokens int                       `json:"max_tokens,omitempty"`
}

// ChunkKind enumerates the shapes a StreamChunk can take.
type ChunkKind string

const (
	ChunkToken    ChunkKind = "token"
	ChunkToolCall ChunkKind = "tool_call"
	ChunkError    ChunkKind = "error"
	ChunkDone     ChunkKind = "done"
)

// StreamChunk is one event yielded by a Provider's stream.
type StreamChunk struct {
	Kind         ChunkKind
	Text         string
	ToolCall     *models.ToolCall
	Err          error
	InputTokens  int
	OutputTokens int
}

// Provider is the LLM Provider port. Each concrete adapter
// (Anthropic, OpenAI, ...) is a black box that yields tokens; native
// tool-calling is optional per provider.
type Provider interface {
	Name() string
	SupportsTools() bool
	// Stream sends req and returns a channel of StreamChunk, closed when
	// the stream ends. Cancelling ctx aborts the stream.
	Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)
}
