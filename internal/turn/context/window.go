// Package context tracks a turn's message history against its model's
// context limit and decides when and how to shrink it: first by
// thinning old tool output, then by compacting a prefix into a summary,
// and only as a last resort by dehydrating it to disk entirely.
//
// Token counts here are an estimate, not an authoritative count — a
// trigger heuristic for when to act, not a billing figure. The engine
// prefers a provider's own usage figures when one comes back on a
// response (types.Usage) and falls back to this estimate only between
// responses.
package context

import (
	"fmt"
	"unicode/utf8"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// bytesPerToken and safetyMargin together give a deliberately
// conservative token estimate: real tokenizers vary by model and
// encoding, and overestimating costs nothing but triggering an
// escalation tier a little early, while underestimating risks actually
// overflowing the model's window.
const (
	bytesPerToken = 3.5
	safetyMargin  = 1.10
)

// ModelContextWindows holds known context limits, in tokens, for the
// model families the engine talks to. An unlisted model falls back to
// DefaultContextWindow.
var ModelContextWindows = map[string]int{
	"claude-opus-4":   200_000,
	"claude-sonnet-4": 200_000,
	"claude-haiku-4":  200_000,
	"gpt-4o":          128_000,
	"gpt-4o-mini":     128_000,
	"gpt-5":           256_000,
}

// DefaultContextWindow is used for any model not present in
// ModelContextWindows.
const DefaultContextWindow = 128_000

// EstimateTokens gives a conservative token estimate for a piece of
// text, using rune count rather than byte count so multi-byte UTF-8
// content isn't over-counted.
func EstimateTokens(s string) int {
	chars := utf8.RuneCountInString(s)
	return int(float64(chars)/bytesPerToken*safetyMargin) + 1
}

// Action is what the context window recommends doing in response to
// Check, in escalating order of drasticness.
type Action int

const (
	// ActionNone means the window is comfortably under its thinning
	// threshold; no action needed.
	ActionNone Action = iota
	// ActionThin means old tool results should be truncated in place.
	ActionThin
	// ActionCompact means a prefix of the conversation should be
	// summarized by the model and replaced with that summary.
	ActionCompact
	// ActionDehydrate means even compaction isn't enough; content should
	// be offloaded to a fragment on disk and replaced with a stub
	// (see package acd).
	ActionDehydrate
)

// Thresholds as a percentage of the model's context window at which each
// escalation tier engages.
const (
	ThinThresholdPercent      = 60
	CompactThresholdPercent   = 80
	DehydrateThresholdPercent = 92
)

// Window tracks one turn's accumulating messages against a model's
// context limit.
type Window struct {
	Model      string
	LimitTokens int
	Messages   []types.Message

	lastUsage *types.Usage
}

// New returns a Window for the named model, using its known context
// limit or DefaultContextWindow if the model is unrecognized.
func New(model string) *Window {
	limit, ok := ModelContextWindows[model]
	if !ok {
		limit = DefaultContextWindow
	}
	return &Window{Model: model, LimitTokens: limit}
}

// Append adds a message to the window.
func (w *Window) Append(m types.Message) {
	w.Messages = append(w.Messages, m)
}

// RecordUsage stores a provider's authoritative token accounting for the
// most recent response, preferred over the heuristic estimate while it's
// fresh.
func (w *Window) RecordUsage(u *types.Usage) {
	w.lastUsage = u
}

// EstimatedTokens returns the provider's last reported usage if
// available, otherwise a heuristic estimate over every message's
// content.
func (w *Window) EstimatedTokens() int {
	if w.lastUsage != nil {
		return w.lastUsage.TotalTokens
	}
	total := 0
	for _, m := range w.Messages {
		total += EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += EstimateTokens(tc.Name) + EstimateTokens(string(tc.Args))
		}
	}
	return total
}

// PercentUsed returns EstimatedTokens as a percentage of LimitTokens.
func (w *Window) PercentUsed() int {
	if w.LimitTokens == 0 {
		return 0
	}
	return w.EstimatedTokens() * 100 / w.LimitTokens
}

// Check returns which escalation tier, if any, the window recommends
// given its current usage.
func (w *Window) Check() Action {
	pct := w.PercentUsed()
	switch {
	case pct >= DehydrateThresholdPercent:
		return ActionDehydrate
	case pct >= CompactThresholdPercent:
		return ActionCompact
	case pct >= ThinThresholdPercent:
		return ActionThin
	default:
		return ActionNone
	}
}

// maxToolResultChars bounds how much of an old tool result's content
// Thin keeps; the rest is replaced with a marker noting how much was
// dropped, so the model knows output was elided rather than empty.
const maxToolResultChars = 2000

// Thin truncates tool-result content on every message except the most
// recent keepLast, in place. This is the cheapest and first-applied
// tier: it costs no model call and loses only output the model has
// already acted on.
func (w *Window) Thin(keepLast int) {
	cutoff := len(w.Messages) - keepLast
	if cutoff <= 0 {
		return
	}
	for i := 0; i < cutoff; i++ {
		m := &w.Messages[i]
		if m.Kind != types.KindToolResult {
			continue
		}
		if len(m.Content) <= maxToolResultChars {
			continue
		}
		dropped := len(m.Content) - maxToolResultChars
		m.Content = m.Content[:maxToolResultChars] + fmt.Sprintf("\n…[%d chars elided]", dropped)
	}
}

// Summarizer produces a summary of a prefix of the conversation, backed
// by a model call the engine owns (the context package has no provider
// of its own — see §4.5: compaction is "an LLM summarization call", not
// a pure function of the messages).
type Summarizer func(prefix []types.Message) (string, error)

// Compact replaces messages[:splitAt] with a single system-role summary
// message produced by summarize. splitAt should leave enough trailing
// messages that the model retains the immediate, actionable context of
// the turn.
func (w *Window) Compact(splitAt int, summarize Summarizer) error {
	if splitAt <= 0 || splitAt > len(w.Messages) {
		return fmt.Errorf("context: compact split %d out of range for %d messages", splitAt, len(w.Messages))
	}
	summary, err := summarize(w.Messages[:splitAt])
	if err != nil {
		return fmt.Errorf("context: compaction summarize failed: %w", err)
	}
	rest := append([]types.Message(nil), w.Messages[splitAt:]...)
	w.Messages = append([]types.Message{{
		Role:    types.RoleSystem,
		Kind:    types.KindOrdinary,
		Content: "Earlier conversation summary:\n" + summary,
	}}, rest...)
	w.lastUsage = nil
	return nil
}
