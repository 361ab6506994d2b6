package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient talks to Anthropic models through the Bedrock Converse API,
// including tool use.
type BedrockClient struct {
	api     bedrockConverseAPI
	modelID string
}

// NewBedrockClient creates a Bedrock-backed client for the given model.
func NewBedrockClient(api bedrockConverseAPI, modelID string) *BedrockClient {
	if api == nil {
		panic("ai: bedrock converse client cannot be nil")
	}
	if strings.TrimSpace(modelID) == "" {
		panic("ai: bedrock model id cannot be empty")
	}
	return &BedrockClient{api: api, modelID: modelID}
}

func (c *BedrockClient) Generate(ctx context.Context, req Request) (Response, error) {
	systemBlocks := make([]brtypes.SystemContentBlock, 0, len(req.System))
	for _, block := range req.System {
		if strings.TrimSpace(block) == "" {
			continue
		}
		systemBlocks = append(systemBlocks, &brtypes.SystemContentBlockMemberText{Value: block})
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		converted, err := bedrockMessage(msg)
		if err != nil {
			return Response{}, err
		}
		if converted != nil {
			messages = append(messages, *converted)
		}
	}
	if len(messages) == 0 {
		return Response{}, errors.New("ai: bedrock requires at least one message")
	}

	inference := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(req.MaxTokens)
	}
	// Allow callers to omit temperature by passing a negative value.
	if req.Temperature >= 0 {
		inference.Temperature = aws.Float32(req.Temperature)
	}
	if inference.MaxTokens == nil && inference.Temperature == nil {
		inference = nil
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(c.modelID),
		System:          systemBlocks,
		Messages:        messages,
		InferenceConfig: inference,
	}
	if len(req.Tools) > 0 {
		input.ToolConfig = bedrockToolConfig(req.Tools)
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return Response{}, fmt.Errorf("ai: bedrock converse: %w", err)
	}
	return bedrockParseOutput(out)
}

func bedrockMessage(msg Message) (*brtypes.Message, error) {
	switch msg.Role {
	case RoleUser:
		blocks := make([]brtypes.ContentBlock, 0, 1+len(msg.ToolResults))
		for _, tr := range msg.ToolResults {
			status := brtypes.ToolResultStatusSuccess
			if tr.IsError {
				status = brtypes.ToolResultStatusError
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
				Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(tr.ToolCallID),
					Status:    status,
					Content: []brtypes.ToolResultContentBlock{
						&brtypes.ToolResultContentBlockMemberText{Value: tr.Content},
					},
				},
			})
		}
		if content := strings.TrimSpace(msg.Content); content != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: content})
		}
		if len(blocks) == 0 {
			return nil, nil
		}
		return &brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks}, nil
	case RoleAssistant:
		blocks := make([]brtypes.ContentBlock, 0, 1+len(msg.ToolCalls))
		if content := strings.TrimSpace(msg.Content); content != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: content})
		}
		for _, tc := range msg.ToolCalls {
			var args map[string]any
			if len(tc.Arguments) > 0 {
				if err := json.Unmarshal(tc.Arguments, &args); err != nil {
					return nil, fmt.Errorf("ai: tool call %q arguments: %w", tc.Name, err)
				}
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
				Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     document.NewLazyDocument(args),
				},
			})
		}
		if len(blocks) == 0 {
			return nil, nil
		}
		return &brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks}, nil
	default:
		return nil, fmt.Errorf("ai: unsupported role %q", msg.Role)
	}
}

func bedrockToolConfig(tools []Tool) *brtypes.ToolConfiguration {
	specs := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		spec := brtypes.ToolSpecification{
			Name:        aws.String(t.Name),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(t.InputSchema)},
		}
		if t.Description != "" {
			spec.Description = aws.String(t.Description)
		}
		specs = append(specs, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	return &brtypes.ToolConfiguration{Tools: specs}
}

func bedrockParseOutput(out *bedrockruntime.ConverseOutput) (Response, error) {
	if out == nil {
		return Response{}, errors.New("ai: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return Response{}, errors.New("ai: bedrock response did not include a message output")
	}

	var (
		builder   strings.Builder
		toolCalls []ToolCall
	)
	for _, block := range msgOut.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			builder.WriteString(v.Value)
		case *brtypes.ContentBlockMemberToolUse:
			args, err := v.Value.Input.MarshalSmithyDocument()
			if err != nil {
				return Response{}, fmt.Errorf("ai: bedrock tool input: %w", err)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        aws.ToString(v.Value.ToolUseId),
				Name:      aws.ToString(v.Value.Name),
				Arguments: json.RawMessage(args),
			})
		}
	}

	resp := Response{
		Text:       strings.TrimSpace(builder.String()),
		ToolCalls:  toolCalls,
		StopReason: string(out.StopReason),
	}
	if resp.Text == "" && len(resp.ToolCalls) == 0 {
		return Response{}, errors.New("ai: bedrock response contained no text or tool use")
	}
	if out.Usage != nil {
		resp.Usage = TokenUsage{
			InputTokens:  int32OrZero(out.Usage.InputTokens),
			OutputTokens: int32OrZero(out.Usage.OutputTokens),
			TotalTokens:  int32OrZero(out.Usage.TotalTokens),
		}
	}
	return resp, nil
}

func int32OrZero(v *int32) int32 {
	if v == nil {
		return 0
	}
	return *v
}
