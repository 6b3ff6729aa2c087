// Package feedback extracts a single human-readable feedback string from
// a coach turn's output, trying several extraction strategies in a fixed
// priority order because different providers and code paths surface the
// coach's verdict in different shapes.
package feedback

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// Source tags which strategy produced the extracted feedback, so a
// caller debugging a bad extraction knows where to look.
type Source string

const (
	SourceConversationHistory Source = "conversation_history"
	SourceSessionLog          Source = "session_log"
	SourceNativeToolCall      Source = "native_tool_call"
	SourceToolCallsArray      Source = "tool_calls_array"
	SourceTaskResultResponse  Source = "task_result_response"
	SourceDefaultFallback     Source = "default_fallback"
)

// DefaultFeedback is returned, tagged SourceDefaultFallback, when none of
// the other strategies find anything.
const DefaultFeedback = "No specific feedback was provided. Continue with the implementation."

// Result is one extraction's outcome.
type Result struct {
	Feedback string
	Source   Source
}

var finalOutputPattern = regexp.MustCompile(`(?s)final_output["']?\s*[:=]\s*["']?(.+?)["']?\s*(?:\n|$)`)

// Extract tries each strategy in order against the coach's last turn and
// returns the first one that produces a non-empty result.
//
//  1. the last assistant message's plain content, if non-empty
//  2. a "final_output: ..." pattern in a raw session log, if provided
//  3. a native tool call (report/feedback-shaped), trying JSON-inline
//     args, then an Anthropic-style content block, then an OpenAI-style
//     function call
//  4. any tool_calls array entry carrying a "summary" or "feedback" key
//  5. a structurally task-result-shaped response with a Summary field
//  6. the default fallback string
func Extract(messages []types.Message, sessionLog string, rawToolCallJSON string) Result {
	if r, ok := fromConversationHistory(messages); ok {
		return r
	}
	if r, ok := fromSessionLog(sessionLog); ok {
		return r
	}
	if r, ok := fromNativeToolCall(rawToolCallJSON); ok {
		return r
	}
	if r, ok := fromToolCallsArray(messages); ok {
		return r
	}
	if r, ok := fromTaskResultResponse(rawToolCallJSON); ok {
		return r
	}
	return Result{Feedback: DefaultFeedback, Source: SourceDefaultFallback}
}

func fromConversationHistory(messages []types.Message) (Result, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != types.RoleAssistant {
			continue
		}
		text := strings.TrimSpace(messages[i].Content)
		if text == "" {
			return Result{}, false
		}
		return Result{Feedback: text, Source: SourceConversationHistory}, true
	}
	return Result{}, false
}

func fromSessionLog(sessionLog string) (Result, bool) {
	if sessionLog == "" {
		return Result{}, false
	}
	m := finalOutputPattern.FindStringSubmatch(sessionLog)
	if m == nil {
		return Result{}, false
	}
	text := strings.TrimSpace(m[1])
	if text == "" {
		return Result{}, false
	}
	return Result{Feedback: text, Source: SourceSessionLog}, true
}

// reportShapes are the keys a native tool call might carry its feedback
// under, checked in this order across each of the three provider
// encodings below.
var reportShapes = []string{"summary", "feedback", "details"}

func fromNativeToolCall(raw string) (Result, bool) {
	if raw == "" {
		return Result{}, false
	}

	// JSON-inline: {"tool":"report","args":{"summary":"..."}}
	var inline struct {
		Args map[string]any `json:"args"`
	}
	if json.Unmarshal([]byte(raw), &inline) == nil {
		if text, ok := firstStringField(inline.Args, reportShapes); ok {
			return Result{Feedback: text, Source: SourceNativeToolCall}, true
		}
	}

	// Anthropic-style content block: {"type":"tool_use","input":{...}}
	var anthropic struct {
		Input map[string]any `json:"input"`
	}
	if json.Unmarshal([]byte(raw), &anthropic) == nil {
		if text, ok := firstStringField(anthropic.Input, reportShapes); ok {
			return Result{Feedback: text, Source: SourceNativeToolCall}, true
		}
	}

	// OpenAI-style function call: {"function":{"arguments":"{...}"}}
	var openai struct {
		Function struct {
			Arguments string `json:"arguments"`
		} `json:"function"`
	}
	if json.Unmarshal([]byte(raw), &openai) == nil && openai.Function.Arguments != "" {
		var args map[string]any
		if json.Unmarshal([]byte(openai.Function.Arguments), &args) == nil {
			if text, ok := firstStringField(args, reportShapes); ok {
				return Result{Feedback: text, Source: SourceNativeToolCall}, true
			}
		}
	}

	return Result{}, false
}

func firstStringField(m map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s, true
			}
		}
	}
	return "", false
}

func fromToolCallsArray(messages []types.Message) (Result, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, tc := range messages[i].ToolCalls {
			var args map[string]any
			if json.Unmarshal(tc.Args, &args) != nil {
				continue
			}
			if text, ok := firstStringField(args, reportShapes); ok {
				return Result{Feedback: text, Source: SourceToolCallsArray}, true
			}
		}
	}
	return Result{}, false
}

func fromTaskResultResponse(raw string) (Result, bool) {
	if raw == "" {
		return Result{}, false
	}
	var tr struct {
		Summary string `json:"summary"`
		Status  string `json:"status"`
	}
	if json.Unmarshal([]byte(raw), &tr) != nil {
		return Result{}, false
	}
	if strings.TrimSpace(tr.Summary) == "" {
		return Result{}, false
	}
	return Result{Feedback: tr.Summary, Source: SourceTaskResultResponse}, true
}
