// Package openai adapts the OpenAI chat completions API to the turn
// engine's Provider interface. Like internal/providers/anthropic, it is
// thin by design: one Stream call is one request, no retry loop of its
// own — the engine's streamWithRetry already owns that.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// ToolDef describes one tool the model may call: a name, a description,
// and a JSON Schema for its arguments.
type ToolDef struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// Config configures a Provider. Model, System, and Tools are fixed at
// construction time.
type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	System    string
	Tools     []ToolDef
}

const defaultModel = "gpt-4o"

// Provider streams completions from OpenAI's chat completions API.
type Provider struct {
	client    *openai.Client
	model     string
	maxTokens int
	system    string
	tools     []openai.Tool
}

// New validates cfg, applies defaults, and converts the tool list once
// up front.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Provider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		maxTokens: cfg.MaxTokens,
		system:    cfg.System,
		tools:     convertTools(cfg.Tools),
	}, nil
}

// Stream issues one OpenAI streaming chat completion request and
// translates its deltas into the engine's Chunk vocabulary. It returns
// as soon as the stream opens; the returned channel is closed when the
// stream ends, fails, or ctx is canceled.
func (p *Provider) Stream(ctx context.Context, messages []types.Message) (<-chan types.Chunk, error) {
	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: convertMessages(messages, p.system),
		Stream:   true,
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}
	if len(p.tools) > 0 {
		req.Tools = p.tools
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan types.Chunk)
	go processStream(stream, out)
	return out, nil
}

// processStream drains an OpenAI chat completion stream into Chunks and
// closes out when done. Unlike Anthropic, OpenAI interleaves tool-call
// deltas for multiple in-flight calls by integer index, so each index
// gets its own ToolCallDelta slot (toolparser.State keys accumulation by
// the same index).
func processStream(stream *openai.ChatCompletionStream, out chan<- types.Chunk) {
	defer close(out)
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				out <- types.Chunk{Finished: true}
				return
			}
			out <- types.Chunk{Finished: true}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			out <- types.Chunk{TextDelta: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			out <- types.Chunk{ToolDelta: &types.ToolCallDelta{
				Index:        index,
				ID:           tc.ID,
				Name:         tc.Function.Name,
				ArgsFragment: tc.Function.Arguments,
			}}
		}

		if resp.Usage != nil {
			out <- types.Chunk{Usage: &types.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}}
		}
	}
}

// convertMessages translates the engine's provider-agnostic messages
// into OpenAI chat messages, prepending the fixed system prompt set at
// construction time. A KindToolResult message becomes a tool-role
// message carrying its originating call's id.
func convertMessages(messages []types.Message, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for _, m := range messages {
		if m.Role == types.RoleSystem {
			continue
		}

		if m.Kind == types.KindToolResult {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
			continue
		}

		oaiMsg := openai.ChatCompletionMessage{
			Role:    roleString(m.Role),
			Content: m.Content,
		}
		if len(m.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Args),
					},
				}
			}
		}
		result = append(result, oaiMsg)
	}
	return result
}

func roleString(r types.Role) string {
	switch r {
	case types.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// convertTools translates ToolDefs into OpenAI tool params once, at
// construction time. A tool whose schema fails to parse falls back to an
// empty object schema rather than failing construction outright.
func convertTools(defs []ToolDef) []openai.Tool {
	if len(defs) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(defs))
	for i, def := range defs {
		var schema map[string]any
		if err := json.Unmarshal(def.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}
