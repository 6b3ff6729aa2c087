// Package toolparser turns a stream of provider chunks into complete tool
// calls. It handles two distinct ways a model can express a call: a
// native, provider-structured delta (already tagged by slot index), and a
// plain-text JSON object embedded in the model's prose that the filter
// left alone because it never matched the tool-call shape closely enough
// to suppress.
package toolparser

import (
	"encoding/json"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// accumulator holds the in-progress fragments for one native tool-call
// slot until the provider marks it complete.
type accumulator struct {
	id   string
	name string
	args []byte
}

// State accumulates native tool-call deltas by slot and scans plain text
// for JSON-shaped tool calls the filter passed through unsuppressed.
// Construct fresh (or Reset) per turn, mirroring filter.State.
type State struct {
	slots map[int]*accumulator
	order []int

	textBuf   []byte
	completed []types.ToolCall
}

// New returns an empty parser state.
func New() *State {
	return &State{slots: make(map[int]*accumulator)}
}

// Reset clears all in-progress accumulation, ready for a new turn.
func (s *State) Reset() {
	s.slots = make(map[int]*accumulator)
	s.order = nil
	s.textBuf = nil
	s.completed = nil
}

// FeedDelta accumulates one native tool-call delta fragment, indexed by
// slot. Fragments for the same index are concatenated in arrival order;
// name and id are taken from whichever delta first carries them.
func (s *State) FeedDelta(d types.ToolCallDelta) {
	acc, ok := s.slots[d.Index]
	if !ok {
		acc = &accumulator{}
		s.slots[d.Index] = acc
		s.order = append(s.order, d.Index)
	}
	if d.ID != "" {
		acc.id = d.ID
	}
	if d.Name != "" {
		acc.name = d.Name
	}
	acc.args = append(acc.args, d.ArgsFragment...)
}

// FeedText scans plain response text for a tool-call-shaped JSON object
// and extracts any complete calls it finds. Unlike the streaming filter
// (which must decide, char by char, what to suppress from the user-facing
// stream), this path runs once the filter has already finished with a
// span of text, so it can afford a full-buffer brace scan per call.
func (s *State) FeedText(text string) {
	if text == "" {
		return
	}
	s.textBuf = append(s.textBuf, text...)
	for {
		start := findObjectStart(s.textBuf)
		if start < 0 {
			return
		}
		end := findObjectEnd(s.textBuf, start)
		if end < 0 {
			return // incomplete; wait for more text
		}
		var probe struct {
			Tool string          `json:"tool"`
			Args json.RawMessage `json:"args"`
		}
		span := s.textBuf[start:end]
		if json.Valid(span) && json.Unmarshal(span, &probe) == nil && probe.Tool != "" {
			s.completed = append(s.completed, types.ToolCall{
				Name: probe.Tool,
				Args: types.RawArgs(probe.Args),
			})
		}
		s.textBuf = s.textBuf[end:]
	}
}

// Finalize completes every still-open native accumulator (the provider
// marks completion out of band, e.g. a "finished" chunk or role change)
// and drains both paths into a single, deduplicated, order-preserving
// slice of calls.
func (s *State) Finalize() []types.ToolCall {
	calls := make([]types.ToolCall, 0, len(s.order)+len(s.completed))
	for _, idx := range s.order {
		acc := s.slots[idx]
		if acc.name == "" {
			continue
		}
		calls = append(calls, types.ToolCall{
			ID:   acc.id,
			Name: acc.name,
			Args: types.RawArgs(acc.args),
		})
	}
	calls = append(calls, s.completed...)
	return dedupe(calls)
}

// dedupe removes structurally duplicate calls (same tool, same
// canonicalized args), keeping the first occurrence. A model that
// repeats an identical call across a retried chunk should not cause it
// to run twice.
func dedupe(calls []types.ToolCall) []types.ToolCall {
	out := make([]types.ToolCall, 0, len(calls))
	for _, c := range calls {
		dup := false
		for _, seen := range out {
			if c.Equal(seen) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// findObjectStart finds the first plausible tool-call object start: a
// '{' immediately followed (after optional whitespace) by "tool".
func findObjectStart(buf []byte) int {
	for i := 0; i < len(buf); i++ {
		if buf[i] != '{' {
			continue
		}
		j := i + 1
		for j < len(buf) && (buf[j] == ' ' || buf[j] == '\t' || buf[j] == '\n' || buf[j] == '\r') {
			j++
		}
		if j+6 <= len(buf) && string(buf[j:j+6]) == `"tool"` {
			return i
		}
	}
	return -1
}

// findObjectEnd returns the index just past the matching closing brace
// for the object starting at start, honoring string and escape state, or
// -1 if the object is not yet complete in buf.
func findObjectEnd(buf []byte, start int) int {
	depth := 0
	inString := false
	escapeNext := false
	for i := start; i < len(buf); i++ {
		ch := buf[i]
		if escapeNext {
			escapeNext = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escapeNext = true
		case ch == '"':
			inString = !inString
		case ch == '{' && !inString:
			depth++
		case ch == '}' && !inString:
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}
