// Package types defines the provider-agnostic data model shared by every
// turn-engine component: messages, tool calls, tool results, and usage
// counters. None of these types know about a specific LLM provider.
package types

import "time"

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageKind tags a Message with how it should be treated by the engine
// beyond its Role. Most messages are Ordinary; ToolResult messages carry
// tool output back to the model as a user-role message.
type MessageKind string

const (
	KindOrdinary   MessageKind = "ordinary"
	KindToolResult MessageKind = "tool_result"
)

// Message is one entry in a conversation. The system message is singular
// and precedes all others; the first message after it is a user message;
// roles alternate thereafter except that multiple consecutive
// assistant/tool-result pairs may appear when the model invokes tools.
type Message struct {
	ID        string      `json:"id"`
	Role      Role        `json:"role"`
	Kind      MessageKind `json:"kind,omitempty"`
	Content   string      `json:"content"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	// ToolCallID identifies which ToolCall a KindToolResult message answers.
	// Unused for any other Kind.
	ToolCallID string    `json:"tool_call_id,omitempty"`
	IsError    bool      `json:"is_error,omitempty"`
	Images     [][]byte  `json:"images,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ToolCall is a single tool invocation parsed from the model's output.
// Arguments are opaque structured data; the core never interprets them,
// only the handler that owns the named tool does.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"tool"`
	Args RawArgs         `json:"args"`
}

// RawArgs is opaque JSON, kept as bytes so the core never needs to know a
// tool's argument shape.
type RawArgs []byte

// Equal reports structural equality, used for duplicate suppression in
// the streaming tool parser.
func (c ToolCall) Equal(other ToolCall) bool {
	if c.Name != other.Name {
		return false
	}
	return jsonEqual(c.Args, other.Args)
}

// ToolResult pairs a tool call's id with its string content. It is
// injected back into the conversation as a Message of KindToolResult,
// RoleUser.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Usage carries a provider's authoritative token accounting for one
// response, when available. The context window prefers this over its own
// estimate.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Chunk is one piece of a streamed provider response. A chunk carries any
// combination of a text delta, a tool-call delta, usage, and a finished
// flag.
type Chunk struct {
	TextDelta string
	ToolDelta *ToolCallDelta
	Usage     *Usage
	Finished  bool
}

// ToolCallDelta is a fragment of an in-progress native tool call, indexed
// by slot so fragments for the same call can be concatenated as they
// arrive.
type ToolCallDelta struct {
	Index        int
	ID           string
	Name         string
	ArgsFragment string
}
