package anthropic

import (
	"testing"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

func TestConvertMessagesDropsSystemRole(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleSystem, Content: "you are a test"},
		{Role: types.RoleUser, Content: "hello"},
	}
	got := convertMessages(msgs)
	if len(got) != 1 {
		t.Fatalf("expected system message to be dropped, got %d messages", len(got))
	}
}

func TestConvertMessagesToolResultCarriesCallID(t *testing.T) {
	msgs := []types.Message{
		{Role: types.RoleUser, Kind: types.KindToolResult, Content: "42", ToolCallID: "call_1", IsError: false},
	}
	got := convertMessages(msgs)
	if len(got) != 1 {
		t.Fatalf("expected one converted message, got %d", len(got))
	}
}

func TestConvertMessagesAssistantToolCall(t *testing.T) {
	msgs := []types.Message{
		{
			Role: types.RoleAssistant,
			ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "lookup", Args: types.RawArgs(`{"q":"weather"}`)},
			},
		},
	}
	got := convertMessages(msgs)
	if len(got) != 1 {
		t.Fatalf("expected one converted message, got %d", len(got))
	}
}

func TestConvertMessagesAssistantToolCallWithMalformedArgsStillConverts(t *testing.T) {
	msgs := []types.Message{
		{
			Role: types.RoleAssistant,
			ToolCalls: []types.ToolCall{
				{ID: "call_1", Name: "lookup", Args: types.RawArgs(`not json`)},
			},
		},
	}
	got := convertMessages(msgs)
	if len(got) != 1 {
		t.Fatalf("expected malformed args to fall back to an empty object rather than failing, got %d messages", len(got))
	}
}

func TestConvertToolsBuildsSchema(t *testing.T) {
	defs := []ToolDef{
		{Name: "lookup", Description: "looks things up", Schema: []byte(`{"type":"object","properties":{"q":{"type":"string"}}}`)},
	}
	got, err := convertTools(defs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one converted tool, got %d", len(got))
	}
}

func TestConvertToolsRejectsInvalidSchema(t *testing.T) {
	defs := []ToolDef{
		{Name: "bad", Description: "d", Schema: []byte(`not json`)},
	}
	if _, err := convertTools(defs); err == nil {
		t.Fatalf("expected an error for an invalid tool schema")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected an error when APIKey is empty")
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p, err := New(Config{APIKey: "sk-ant-test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != defaultModel {
		t.Fatalf("expected default model, got %q", p.model)
	}
	if p.maxTokens != defaultMaxTokens {
		t.Fatalf("expected default max tokens, got %d", p.maxTokens)
	}
}
