package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient is the text-only fallback provider. It does not support tool
// use; callers that need tools must strip them before falling back so a
// degraded turn still yields a user-facing reply.
type GeminiClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiClient creates a Gemini-backed client.
func NewGeminiClient(ctx context.Context, apiKey, modelID string) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("ai: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("ai: failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, modelID: modelID}, nil
}

func (c *GeminiClient) Generate(ctx context.Context, req Request) (Response, error) {
	if len(req.Tools) > 0 {
		return Response{}, errors.New("ai: gemini client does not support tool use")
	}

	model := c.client.GenerativeModel(c.modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if len(req.System) > 0 {
		systemText := strings.Join(req.System, "\n\n")
		if strings.TrimSpace(systemText) != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
		}
	}

	flattened := flattenForText(req.Messages)
	if len(flattened) == 0 {
		return Response{}, errors.New("ai: gemini requires at least one message")
	}

	cs := model.StartChat()
	for _, msg := range flattened[:len(flattened)-1] {
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}

	last := flattened[len(flattened)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return Response{}, fmt.Errorf("ai: gemini completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return Response{}, errors.New("ai: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Response{}, errors.New("ai: gemini returned empty content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	result := Response{
		Text:       strings.TrimSpace(text.String()),
		StopReason: StopEndTurn,
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// Close releases resources held by the underlying Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// flattenForText rewrites a tool-bearing transcript into plain text turns so
// a text-only provider can still follow the conversation.
func flattenForText(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		var parts []string
		if content := strings.TrimSpace(msg.Content); content != "" {
			parts = append(parts, content)
		}
		for _, tc := range msg.ToolCalls {
			parts = append(parts, fmt.Sprintf("[requested %s]", tc.Name))
		}
		for _, tr := range msg.ToolResults {
			parts = append(parts, fmt.Sprintf("[tool result] %s", tr.Content))
		}
		if len(parts) == 0 {
			continue
		}
		role := msg.Role
		if role != RoleAssistant {
			role = RoleUser
		}
		out = append(out, Message{Role: role, Content: strings.Join(parts, "\n")})
	}
	return out
}
