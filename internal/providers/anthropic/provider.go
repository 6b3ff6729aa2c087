// Package anthropic adapts Anthropic's Claude API to the turn engine's
// Provider interface. It is deliberately thin: one Stream call maps to
// exactly one Anthropic streaming request, with no retry logic of its
// own. Retry and backoff are the engine's job (internal/turn/retry), not
// the transport layer's — duplicating that policy here would give a turn
// two independent, possibly conflicting retry schedules.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// ToolDef describes one tool the model may call, in the shape every
// provider adapter accepts: a name, a description, and a JSON Schema for
// its arguments. Schema validation of the arguments themselves is a
// separate concern (internal/tools/schema); the provider only needs the
// schema to advertise it to the model.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Config configures a Provider. Model, System, and Tools are fixed at
// construction time: a turn engine owns one Provider per conversation
// and never needs to vary them mid-stream.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	System    string
	Tools     []ToolDef
}

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	// maxEmptyStreamEvents bounds consecutive SSE events that produce no
	// chunk before the stream is treated as malformed and aborted.
	maxEmptyStreamEvents = 300
)

// Provider streams completions from Anthropic's Claude API.
type Provider struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	system    string
	tools     []anthropic.ToolUnionParam
}

// New validates cfg, applies defaults, and converts the tool list once
// up front so every Stream call reuses the same converted params.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	tools, err := convertTools(cfg.Tools)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	return &Provider{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: int64(maxTokens),
		system:    cfg.System,
		tools:     tools,
	}, nil
}

// Stream issues one Anthropic streaming request for the given
// conversation and translates its SSE events into the engine's Chunk
// vocabulary. It returns as soon as the request is accepted; the
// returned channel is closed when the stream ends, fails, or ctx is
// canceled.
func (p *Provider) Stream(ctx context.Context, messages []types.Message) (<-chan types.Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		Messages:  convertMessages(messages),
		MaxTokens: p.maxTokens,
	}
	if p.system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: p.system}}
	}
	if len(p.tools) > 0 {
		params.Tools = p.tools
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan types.Chunk)
	go processStream(stream, out)
	return out, nil
}

// processStream drains an Anthropic SSE stream into Chunks and closes
// out when done. Anthropic content blocks arrive sequentially, never
// interleaved, so a single in-flight tool call accumulator (slot 0)
// suffices — unlike OpenAI, which interleaves tool-call deltas by index.
func processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- types.Chunk) {
	defer close(out)

	var toolCallOpen bool
	var toolID, toolName string
	var toolArgs strings.Builder
	emptyEvents := 0

	for stream.Next() {
		event := stream.Current()
		handled := true

		switch event.Type {
		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				toolCallOpen = true
				toolID = toolUse.ID
				toolName = toolUse.Name
				toolArgs.Reset()
			} else {
				handled = false
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- types.Chunk{TextDelta: delta.Text}
				} else {
					handled = false
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolArgs.WriteString(delta.PartialJSON)
					out <- types.Chunk{ToolDelta: &types.ToolCallDelta{
						Index:        0,
						ID:           toolID,
						Name:         toolName,
						ArgsFragment: delta.PartialJSON,
					}}
					// ID/Name are only needed on the first fragment;
					// sending them again is harmless (FeedDelta only
					// overwrites on non-empty) but wasteful, so clear
					// them for subsequent deltas in this block.
					toolID, toolName = "", ""
				} else {
					handled = false
				}
			default:
				handled = false
			}

		case "content_block_stop":
			if toolCallOpen {
				toolCallOpen = false
			} else {
				handled = false
			}

		case "message_delta":
			usage := event.AsMessageDelta().Usage
			if usage.OutputTokens > 0 {
				out <- types.Chunk{Usage: &types.Usage{CompletionTokens: int(usage.OutputTokens)}}
			} else {
				handled = false
			}

		case "message_start":
			usage := event.AsMessageStart().Message.Usage
			if usage.InputTokens > 0 {
				out <- types.Chunk{Usage: &types.Usage{PromptTokens: int(usage.InputTokens)}}
			} else {
				handled = false
			}

		case "message_stop":
			out <- types.Chunk{Finished: true}
			return

		case "error":
			out <- types.Chunk{Finished: true}
			return

		default:
			handled = false
		}

		if handled {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				out <- types.Chunk{Finished: true}
				return
			}
		}
	}
}

// convertMessages translates the engine's provider-agnostic messages
// into Anthropic message params. System messages are dropped: Anthropic
// carries the system prompt out of band in params.System, set once at
// construction.
func convertMessages(messages []types.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		switch m.Kind {
		case types.KindToolResult:
			content = append(content, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError))
		default:
			if m.Content != "" {
				content = append(content, anthropic.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				var input map[string]any
				if err := json.Unmarshal(call.Args, &input); err != nil {
					input = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
			}
		}

		if m.Role == types.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result
}

// convertTools translates ToolDefs into Anthropic tool params once, at
// construction time.
func convertTools(defs []ToolDef) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", def.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid schema for tool %s: missing tool definition", def.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Description)
		result = append(result, toolParam)
	}
	return result, nil
}
