package ai

import (
	"context"
	"encoding/json"
)

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// Stop reasons reported by model providers, normalized across backends.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Tool describes a function the model may request during a turn.
// InputSchema is a JSON Schema object.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a model's request to invoke a tool.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolResult carries the outcome of an executed tool call back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Message is one entry in the conversation sent to the model. An assistant
// message may carry tool calls; a user message may carry tool results.
type Message struct {
	Role        ChatRole
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// Request is a provider-agnostic completion request.
type Request struct {
	System      []string
	Messages    []Message
	Tools       []Tool
	MaxTokens   int32
	Temperature float32
}

// TokenUsage reports token counts when the provider surfaces them.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Response is the model's answer: either final text or one or more tool
// calls to execute before the turn can complete.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason string
	Usage      TokenUsage
}

// Client is the model-provider contract used by the reasoning loop.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
}
