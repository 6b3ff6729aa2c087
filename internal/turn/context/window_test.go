package context

import (
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

func TestEstimateTokensGrowsWithLength(t *testing.T) {
	short := EstimateTokens("hi")
	long := EstimateTokens(strings.Repeat("hello world ", 100))
	if long <= short {
		t.Fatalf("expected longer text to estimate more tokens: %d vs %d", long, short)
	}
}

func TestUnknownModelFallsBackToDefault(t *testing.T) {
	w := New("some-unreleased-model")
	if w.LimitTokens != DefaultContextWindow {
		t.Fatalf("got %d", w.LimitTokens)
	}
}

func TestCheckEscalatesWithUsage(t *testing.T) {
	w := New("gpt-4o-mini")
	w.RecordUsage(&types.Usage{TotalTokens: int(float64(w.LimitTokens) * 0.50)})
	if a := w.Check(); a != ActionNone {
		t.Fatalf("expected none at 50%%, got %v", a)
	}
	w.RecordUsage(&types.Usage{TotalTokens: int(float64(w.LimitTokens) * 0.65)})
	if a := w.Check(); a != ActionThin {
		t.Fatalf("expected thin at 65%%, got %v", a)
	}
	w.RecordUsage(&types.Usage{TotalTokens: int(float64(w.LimitTokens) * 0.85)})
	if a := w.Check(); a != ActionCompact {
		t.Fatalf("expected compact at 85%%, got %v", a)
	}
	w.RecordUsage(&types.Usage{TotalTokens: int(float64(w.LimitTokens) * 0.95)})
	if a := w.Check(); a != ActionDehydrate {
		t.Fatalf("expected dehydrate at 95%%, got %v", a)
	}
}

func TestThinTruncatesOldToolResultsOnly(t *testing.T) {
	w := New("gpt-4o-mini")
	w.Append(types.Message{Kind: types.KindToolResult, Content: strings.Repeat("x", maxToolResultChars+500)})
	w.Append(types.Message{Kind: types.KindOrdinary, Content: "keep me"})
	w.Thin(1)
	if len(w.Messages[0].Content) >= maxToolResultChars+500 {
		t.Fatalf("expected old tool result to be truncated")
	}
	if w.Messages[1].Content != "keep me" {
		t.Fatalf("recent message must be untouched")
	}
}

func TestThinLeavesRecentToolResultsAlone(t *testing.T) {
	w := New("gpt-4o-mini")
	big := strings.Repeat("y", maxToolResultChars+500)
	w.Append(types.Message{Kind: types.KindToolResult, Content: big})
	w.Thin(1)
	if w.Messages[0].Content != big {
		t.Fatalf("kept-last message should be untouched")
	}
}

func TestCompactReplacesPrefixWithSummary(t *testing.T) {
	w := New("gpt-4o-mini")
	w.Append(types.Message{Role: types.RoleUser, Content: "first"})
	w.Append(types.Message{Role: types.RoleAssistant, Content: "second"})
	w.Append(types.Message{Role: types.RoleUser, Content: "third"})

	err := w.Compact(2, func(prefix []types.Message) (string, error) {
		if len(prefix) != 2 {
			t.Fatalf("expected 2-message prefix, got %d", len(prefix))
		}
		return "summary text", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.Messages) != 2 {
		t.Fatalf("expected prefix collapsed to 1 summary + 1 remaining, got %d", len(w.Messages))
	}
	if !strings.Contains(w.Messages[0].Content, "summary text") {
		t.Fatalf("got %q", w.Messages[0].Content)
	}
	if w.Messages[1].Content != "third" {
		t.Fatalf("expected trailing message preserved, got %q", w.Messages[1].Content)
	}
}

func TestCompactPropagatesSummarizerError(t *testing.T) {
	w := New("gpt-4o-mini")
	w.Append(types.Message{Content: "a"})
	w.Append(types.Message{Content: "b"})
	err := w.Compact(1, func(prefix []types.Message) (string, error) {
		return "", errors.New("provider unavailable")
	})
	if err == nil {
		t.Fatalf("expected error to propagate")
	}
}

func TestCompactRejectsOutOfRangeSplit(t *testing.T) {
	w := New("gpt-4o-mini")
	w.Append(types.Message{Content: "only"})
	if err := w.Compact(5, func([]types.Message) (string, error) { return "", nil }); err == nil {
		t.Fatalf("expected error for out-of-range split")
	}
}
