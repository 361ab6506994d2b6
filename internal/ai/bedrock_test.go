package ai

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverseAPI struct {
	lastInput *bedrockruntime.ConverseInput
	output    *bedrockruntime.ConverseOutput
	err       error
}

func (f *fakeConverseAPI) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.lastInput = params
	return f.output, f.err
}

func textOutput(text string, stop brtypes.StopReason) *bedrockruntime.ConverseOutput {
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: text}},
			},
		},
		StopReason: stop,
	}
}

func TestGenerateText(t *testing.T) {
	api := &fakeConverseAPI{output: textOutput("Happy to help you book a consult.", brtypes.StopReasonEndTurn)}
	client := NewBedrockClient(api, "anthropic.claude-3-5-sonnet-20241022-v2:0")

	resp, err := client.Generate(context.Background(), Request{
		System:      []string{"You are a clinic receptionist."},
		Messages:    []Message{{Role: RoleUser, Content: "Can I book botox?"}},
		MaxTokens:   512,
		Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "Happy to help you book a consult.", resp.Text)
	assert.Equal(t, StopEndTurn, resp.StopReason)
	assert.Empty(t, resp.ToolCalls)

	require.NotNil(t, api.lastInput)
	assert.Equal(t, "anthropic.claude-3-5-sonnet-20241022-v2:0", aws.ToString(api.lastInput.ModelId))
	require.Len(t, api.lastInput.System, 1)
	require.NotNil(t, api.lastInput.InferenceConfig)
	assert.Equal(t, int32(512), aws.ToInt32(api.lastInput.InferenceConfig.MaxTokens))
	assert.Nil(t, api.lastInput.ToolConfig)
}

func TestGenerateToolUse(t *testing.T) {
	api := &fakeConverseAPI{
		output: &bedrockruntime.ConverseOutput{
			Output: &brtypes.ConverseOutputMemberMessage{
				Value: brtypes.Message{
					Role: brtypes.ConversationRoleAssistant,
					Content: []brtypes.ContentBlock{
						&brtypes.ContentBlockMemberToolUse{
							Value: brtypes.ToolUseBlock{
								ToolUseId: aws.String("tu-1"),
								Name:      aws.String("get_availability"),
								Input:     document.NewLazyDocument(map[string]any{"resource_type": "consult"}),
							},
						},
					},
				},
			},
			StopReason: brtypes.StopReasonToolUse,
		},
	}
	client := NewBedrockClient(api, "model-id")

	resp, err := client.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "What times are open?"}},
		Tools: []Tool{{
			Name:        "get_availability",
			Description: "List open appointment slots.",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "tu-1", resp.ToolCalls[0].ID)
	assert.Equal(t, "get_availability", resp.ToolCalls[0].Name)

	var args map[string]string
	require.NoError(t, json.Unmarshal(resp.ToolCalls[0].Arguments, &args))
	assert.Equal(t, "consult", args["resource_type"])

	require.NotNil(t, api.lastInput.ToolConfig)
	require.Len(t, api.lastInput.ToolConfig.Tools, 1)
}

func TestGenerateRoundTripsToolTranscript(t *testing.T) {
	api := &fakeConverseAPI{output: textOutput("Booked!", brtypes.StopReasonEndTurn)}
	client := NewBedrockClient(api, "model-id")

	_, err := client.Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "Book the 9am."},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{
				ID:        "tu-1",
				Name:      "reserve_and_book",
				Arguments: json.RawMessage(`{"slot_id":"s1"}`),
			}}},
			{Role: RoleUser, ToolResults: []ToolResult{{
				ToolCallID: "tu-1",
				Content:    `{"appointment_id":"appt-s1"}`,
			}}},
		},
	})
	require.NoError(t, err)

	require.Len(t, api.lastInput.Messages, 3)
	assistant := api.lastInput.Messages[1]
	require.Len(t, assistant.Content, 1)
	toolUse, ok := assistant.Content[0].(*brtypes.ContentBlockMemberToolUse)
	require.True(t, ok)
	assert.Equal(t, "reserve_and_book", aws.ToString(toolUse.Value.Name))

	result := api.lastInput.Messages[2]
	toolResult, ok := result.Content[0].(*brtypes.ContentBlockMemberToolResult)
	require.True(t, ok)
	assert.Equal(t, "tu-1", aws.ToString(toolResult.Value.ToolUseId))
}

func TestGenerateErrors(t *testing.T) {
	api := &fakeConverseAPI{err: errors.New("throttled")}
	client := NewBedrockClient(api, "model-id")

	_, err := client.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.ErrorContains(t, err, "throttled")

	_, err = client.Generate(context.Background(), Request{})
	assert.ErrorContains(t, err, "at least one message")
}
