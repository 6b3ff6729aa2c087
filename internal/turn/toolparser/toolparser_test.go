package toolparser

import (
	"testing"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

func TestNativeDeltaAccumulation(t *testing.T) {
	s := New()
	s.FeedDelta(types.ToolCallDelta{Index: 0, ID: "call_1", Name: "shell"})
	s.FeedDelta(types.ToolCallDelta{Index: 0, ArgsFragment: `{"command":`})
	s.FeedDelta(types.ToolCallDelta{Index: 0, ArgsFragment: `"ls"}`})

	calls := s.Finalize()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "shell" {
		t.Fatalf("got %+v", calls[0])
	}
	if string(calls[0].Args) != `{"command":"ls"}` {
		t.Fatalf("got args %q", calls[0].Args)
	}
}

func TestNativeMultipleSlotsPreserveOrder(t *testing.T) {
	s := New()
	s.FeedDelta(types.ToolCallDelta{Index: 1, ID: "b", Name: "read_file", ArgsFragment: `{}`})
	s.FeedDelta(types.ToolCallDelta{Index: 0, ID: "a", Name: "shell", ArgsFragment: `{}`})

	calls := s.Finalize()
	if len(calls) != 2 || calls[0].ID != "b" || calls[1].ID != "a" {
		t.Fatalf("expected slot-arrival order preserved, got %+v", calls)
	}
}

func TestTextPathExtractsToolCall(t *testing.T) {
	s := New()
	s.FeedText(`Here is the call: {"tool":"shell","args":{"command":"ls"}} and some trailing prose.`)
	calls := s.Finalize()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %+v", calls)
	}
	if calls[0].Name != "shell" {
		t.Fatalf("got %+v", calls[0])
	}
}

func TestTextPathIgnoresIncompleteObject(t *testing.T) {
	s := New()
	s.FeedText(`{"tool":"shell","args":{"command":"l`)
	if calls := s.Finalize(); len(calls) != 0 {
		t.Fatalf("expected no calls from incomplete object, got %+v", calls)
	}
}

func TestTextPathHandlesBraceInsideStringValue(t *testing.T) {
	s := New()
	s.FeedText(`{"tool":"shell","args":{"command":"echo '}'"}}`)
	calls := s.Finalize()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %+v", calls)
	}
}

func TestDedupeIdenticalCalls(t *testing.T) {
	s := New()
	s.FeedText(`{"tool":"shell","args":{"command":"ls"}}`)
	s.FeedText(`{"tool":"shell","args":{"command":"ls"}}`)
	calls := s.Finalize()
	if len(calls) != 1 {
		t.Fatalf("expected duplicate call suppressed, got %+v", calls)
	}
}

func TestDedupeIgnoresArgKeyOrder(t *testing.T) {
	s := New()
	s.FeedDelta(types.ToolCallDelta{Index: 0, Name: "shell", ArgsFragment: `{"a":1,"b":2}`})
	s.FeedText(`{"tool":"shell","args":{"b":2,"a":1}}`)
	calls := s.Finalize()
	if len(calls) != 1 {
		t.Fatalf("expected key-order-insensitive dedupe, got %+v", calls)
	}
}

func TestResetClearsBothPaths(t *testing.T) {
	s := New()
	s.FeedDelta(types.ToolCallDelta{Index: 0, Name: "shell", ArgsFragment: `{}`})
	s.FeedText(`{"tool":"read_file","args":{}}`)
	s.Reset()
	if calls := s.Finalize(); len(calls) != 0 {
		t.Fatalf("expected empty state after reset, got %+v", calls)
	}
}
