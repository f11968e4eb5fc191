package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/easel/internal/observability"
)

const (
	defaultModel         = "claude-sonnet-4-20250514"
	defaultMaxTokens     = 4096
	defaultMaxIterations = 12
)

// AnthropicSession streams turns through the Anthropic Messages API. Tool
// calls are executed inline via the registered ToolRunner and their results
// fed back until the model finishes without requesting a tool.
type AnthropicSession struct {
	client anthropic.Client
	opts   SessionOptions
	log    *observability.Logger
}

// NewAnthropicSession builds a session. The API key is required; baseURL
// overrides the API endpoint for testing.
func NewAnthropicSession(apiKey, baseURL string, opts SessionOptions, log *observability.Logger) (*AnthropicSession, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("anthropic: tool runner is required")
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}

	return &AnthropicSession{
		client: anthropic.NewClient(clientOpts...),
		opts:   opts,
		log:    log.WithComponent("agent"),
	}, nil
}

// Query starts one turn and streams its events.
func (s *AnthropicSession) Query(ctx context.Context, turn TurnInput) (<-chan Event, error) {
	tools, err := s.convertTools()
	if err != nil {
		return nil, err
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		s.runTurn(ctx, turn, tools, events)
	}()
	return events, nil
}

// Close releases the session. The underlying client holds no connection
// state, so this is bookkeeping only.
func (s *AnthropicSession) Close() error { return nil }

// runTurn drives the tool-use loop: stream a response, execute any tool
// calls, append the results, and repeat until the model stops calling
// tools or the iteration bound is hit.
func (s *AnthropicSession) runTurn(ctx context.Context, turn TurnInput, tools []anthropic.ToolUnionParam, events chan<- Event) {
	messages := []anthropic.MessageParam{s.userTurnMessage(turn)}

	for iteration := 0; iteration < s.opts.MaxIterations; iteration++ {
		if ctx.Err() != nil {
			events <- Event{Kind: EventError, Err: ctx.Err()}
			return
		}

		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(s.opts.Model),
			Messages:  messages,
			MaxTokens: int64(s.opts.MaxTokens),
			Tools:     tools,
		}
		if s.opts.SystemPrompt != "" {
			params.System = []anthropic.TextBlockParam{{Type: "text", Text: s.opts.SystemPrompt}}
		}

		stream := s.client.Messages.NewStreaming(ctx, params)

		assistant, toolUses, err := s.consumeStream(ctx, stream, events)
		if err != nil {
			events <- Event{Kind: EventError, Err: err}
			return
		}
		if len(toolUses) == 0 {
			events <- Event{Kind: EventDone}
			return
		}

		messages = append(messages, s.assistantMessage(assistant, toolUses))

		var results []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			events <- Event{Kind: EventToolUse, ToolUse: use}

			outcome := s.opts.Runner(ctx, use.Name, use.Input)
			events <- Event{Kind: EventToolResult, ToolResult: &ToolResult{
				ToolUseID: use.ID,
				Name:      use.Name,
				Content:   outcome.Content,
				IsError:   outcome.IsError,
			}}
			results = append(results, toolResultBlock(use.ID, outcome))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	events <- Event{Kind: EventError, Err: fmt.Errorf("turn exceeded %d tool iterations", s.opts.MaxIterations)}
}

// streamHandle is the subset of the SDK stream the consumer needs; tests
// substitute a fake.
type streamHandle interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

// consumeStream translates SSE events into session events, accumulating
// assistant text and tool calls for the follow-up message.
func (s *AnthropicSession) consumeStream(ctx context.Context, stream streamHandle, events chan<- Event) (string, []*ToolUse, error) {
	var assistant strings.Builder
	var toolUses []*ToolUse
	var currentTool *ToolUse
	var currentInput strings.Builder

	for stream.Next() {
		if ctx.Err() != nil {
			return assistant.String(), toolUses, ctx.Err()
		}

		event := stream.Current()
		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				currentTool = &ToolUse{ID: use.ID, Name: use.Name}
				currentInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					assistant.WriteString(delta.Text)
					events <- Event{Kind: EventTextDelta, Text: delta.Text}
				}
			case "input_json_delta":
				currentInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentTool != nil {
				input := currentInput.String()
				if input == "" {
					input = "{}"
				}
				currentTool.Input = json.RawMessage(input)
				toolUses = append(toolUses, currentTool)
				currentTool = nil
			}

		case "message_stop":
			return assistant.String(), toolUses, nil

		case "error":
			return assistant.String(), toolUses, errors.New("anthropic stream error")
		}
	}

	if err := stream.Err(); err != nil {
		return assistant.String(), toolUses, err
	}
	return assistant.String(), toolUses, nil
}

// userTurnMessage composes the turn prompt with the canvas image attached.
func (s *AnthropicSession) userTurnMessage(turn TurnInput) anthropic.MessageParam {
	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(turn.Prompt)}
	if len(turn.CanvasPNG) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			"image/png", base64.StdEncoding.EncodeToString(turn.CanvasPNG)))
	}
	return anthropic.NewUserMessage(blocks...)
}

func (s *AnthropicSession) assistantMessage(text string, toolUses []*ToolUse) anthropic.MessageParam {
	var blocks []anthropic.ContentBlockParamUnion
	if text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	for _, use := range toolUses {
		var input map[string]any
		if err := json.Unmarshal(use.Input, &input); err != nil {
			input = map[string]any{}
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(use.ID, input, use.Name))
	}
	return anthropic.NewAssistantMessage(blocks...)
}

// toolResultBlock packs a tool outcome, including any snapshot image, into
// a tool_result content block.
func toolResultBlock(toolUseID string, outcome ToolOutcome) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{ToolUseID: toolUseID}
	if outcome.IsError {
		block.IsError = anthropic.Bool(true)
	}

	var content []anthropic.ToolResultBlockParamContentUnion
	if outcome.Content != "" {
		content = append(content, anthropic.ToolResultBlockParamContentUnion{
			OfText: &anthropic.TextBlockParam{Text: outcome.Content},
		})
	}
	if len(outcome.ImagePNG) > 0 {
		content = append(content, anthropic.ToolResultBlockParamContentUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfBase64: &anthropic.Base64ImageSourceParam{
						Data:      base64.StdEncoding.EncodeToString(outcome.ImagePNG),
						MediaType: anthropic.Base64ImageSourceMediaTypeImagePNG,
					},
				},
			},
		})
	}
	if len(content) > 0 {
		block.Content = content
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

// convertTools translates the registered tool defs to the API's format.
func (s *AnthropicSession) convertTools() ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range s.opts.Tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Name)
		}
		param.OfTool.Description = anthropic.String(def.Description)
		result = append(result, param)
	}
	return result, nil
}
