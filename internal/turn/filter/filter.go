// Package filter implements the Streaming Filter: it strips structured
// tool-call JSON from a model's text stream while preserving ordinary
// prose, without ever holding an unbounded buffer.
//
// Detection tracks a single mutable state across an entire stream, since
// a tool call can arrive split across many chunks. Go has no thread-local
// storage, so that mutable state becomes an explicit *State value the
// caller owns and resets between streams (see Reset).
package filter

import (
	"regexp"
	"strings"
)

// suppressBufferCap bounds the unresolved region held while buffering a
// potential or confirmed tool call. If a candidate run grows past this
// without resolving, the oldest bytes are flushed as plain text and only
// the tail is kept, at a valid UTF-8 boundary, so a later restart can
// still be detected (spec invariant: peak buffer stays bounded).
const suppressBufferCap = 200

// bufferingDetectWindow is how many bytes of a potential-JSON run we
// require before giving up on confirming it as a tool call by pattern
// alone (the ground-truth heuristic threshold).
const bufferingDetectWindow = 10

var (
	toolCallPrefix    = regexp.MustCompile(`(?m)^\s*\{\s*"tool"\s*:\s*"`)
	toolCallComplete  = regexp.MustCompile(`(?m)^\s*\{\s*"tool"\s*:\s*"[^"]*"`)
	potentialJSONLine = regexp.MustCompile(`(?m)^\s*\{\s*`)
	notToolPattern    = regexp.MustCompile(`^\{\s*"(?:[^t]|t(?:[^o]|o(?:[^o]|o(?:[^l]|l[^"\s:]))))`)

	// restartPattern has no line anchor: a truncated tool call can be
	// immediately followed, mid-line, by a freshly retried one (the model
	// re-emits the whole call rather than resuming the cut-off one).
	restartPattern = regexp.MustCompile(`\{\s*"tool"\s*:\s*"`)
)

type mode int

const (
	modeStreaming mode = iota
	modePotentialJSON
	modeSuppressing
)

// State is the per-stream mutable state of the filter. Construct a fresh
// State (or call Reset) before each stream the engine opens.
type State struct {
	mode              mode
	buf               []byte
	contentReturnedTo int
	jsonStart         int
	potentialStart    int
	braceDepth        int

	inFence bool
}

// New returns a fresh filter state, equivalent to Reset on a zero value.
func New() *State {
	return &State{}
}

// Reset clears all filtering state. Call this before reusing a State for
// a new stream; failing to do so can suppress or leak bytes from the
// previous stream.
func (s *State) Reset() {
	*s = State{}
}

// Feed processes one chunk of streamed text and returns the portion of it
// (plus any previously withheld bytes that are now resolved) that is safe
// to show the user. Feed may return an empty string while a candidate
// tool call is still being buffered.
func (s *State) Feed(chunk string) string {
	if chunk == "" {
		return ""
	}
	return s.feedRespectingFences(chunk)
}

// Flush returns any bytes still held in a pending (never-confirmed,
// never-ruled-out) state. Call this at end-of-stream.
func (s *State) Flush() string {
	var out string
	if len(s.buf) > s.contentReturnedTo {
		out = string(s.buf[s.contentReturnedTo:])
	}
	s.Reset()
	return out
}

// feedRespectingFences splits the incoming chunk at fenced-code-block
// boundaries (tracked independently of the JSON state machine, per spec)
// and routes fenced content straight through.
func (s *State) feedRespectingFences(chunk string) string {
	var out strings.Builder
	rest := chunk
	for len(rest) > 0 {
		idx := strings.Index(rest, "```")
		if idx < 0 {
			if s.inFence {
				out.WriteString(rest)
			} else {
				out.WriteString(s.feedCore(rest))
			}
			break
		}
		before := rest[:idx]
		if s.inFence {
			out.WriteString(before)
		} else {
			out.WriteString(s.feedCore(before))
		}
		out.WriteString("```")
		s.inFence = !s.inFence
		rest = rest[idx+3:]
	}
	return out.String()
}

// feedCore runs the ground-truth state machine on text known to be
// outside any fenced code block.
func (s *State) feedCore(content string) string {
	if content == "" {
		return ""
	}
	s.buf = append(s.buf, content...)

	switch s.mode {
	case modeSuppressing:
		return s.continueSuppressing()
	case modePotentialJSON:
		return s.continuePotentialJSON()
	default:
		return s.detectFromStreaming()
	}
}

// enterSuppression transitions into Suppressing starting at jsonStart,
// counts braces over whatever of the candidate is already buffered, and
// resolves immediately if it closes within this same buffer. If it does
// not close, it additionally checks whether a *newer* tool-call pattern
// has already appeared after jsonStart (the single-chunk form of the
// truncated-then-retried case): if so, the old candidate is discarded.
func (s *State) enterSuppression(jsonStart int, before string) string {
	s.mode = modeSuppressing
	s.jsonStart = jsonStart
	s.braceDepth = 0
	for _, ch := range string(s.buf[jsonStart:]) {
		switch ch {
		case '{':
			s.braceDepth++
		case '}':
			s.braceDepth--
			if s.braceDepth <= 0 {
				result := extractWithoutJSON(s.buf, jsonStart)
				after := ""
				if len(result) > jsonStart {
					after = result[jsonStart:]
				}
				s.Reset()
				return before + after
			}
		}
	}
	if restarted, text := s.checkRestart(); restarted {
		return before + text
	}
	s.enforceSuppressCap()
	return before
}

func (s *State) continueSuppressing() string {
	// Re-count from scratch over the whole candidate region each call:
	// the region only grows, and this keeps the state machine simple and
	// correct without tracking a separate cursor into it.
	s.braceDepth = 0
	for _, ch := range string(s.buf[s.jsonStart:]) {
		switch ch {
		case '{':
			s.braceDepth++
		case '}':
			s.braceDepth--
			if s.braceDepth <= 0 {
				return s.resolveSuppressed()
			}
		}
	}

	if restarted, text := s.checkRestart(); restarted {
		return text
	}

	s.enforceSuppressCap()
	return ""
}

func (s *State) checkRestart() (bool, string) {
	if s.jsonStart+1 >= len(s.buf) {
		return false, ""
	}
	loc := restartPattern.FindIndex(s.buf[s.jsonStart+1:])
	if loc == nil {
		return false, ""
	}
	newStart := s.jsonStart + 1 + loc[0]
	before := ""
	if s.jsonStart > s.contentReturnedTo {
		before = string(s.buf[s.contentReturnedTo:s.jsonStart])
	}
	s.contentReturnedTo = newStart
	s.mode = modeStreaming
	s.jsonStart = 0
	s.braceDepth = 0
	s.compact()
	// The bytes after the restart point may already hold a fully resolved
	// tool call (or another restart), all delivered in this same chunk;
	// keep processing rather than waiting for the next Feed call.
	return true, before + s.detectFromStreaming()
}

func (s *State) resolveSuppressed() string {
	result := extractWithoutJSON(s.buf, s.jsonStart)
	var out string
	if len(result) > s.contentReturnedTo {
		out = result[s.contentReturnedTo:]
	}
	s.Reset()
	return out
}

// enforceSuppressCap bounds memory while a tool call never seems to
// close: the oldest bytes of the unresolved region are flushed as plain
// text (this candidate no longer counts as a tool call), and only a tail
// is retained so a fresh start immediately after can still be detected.
func (s *State) enforceSuppressCap() {
	unresolved := len(s.buf) - s.jsonStart
	if unresolved <= suppressBufferCap {
		return
	}
	keepFrom := len(s.buf) - suppressBufferCap
	for keepFrom > 0 && keepFrom < len(s.buf) && !isUTF8Boundary(s.buf, keepFrom) {
		keepFrom++
	}
	if keepFrom <= s.jsonStart {
		return
	}
	s.contentReturnedTo = keepFrom
	s.mode = modeStreaming
	s.jsonStart = 0
	s.braceDepth = 0
	s.compact()
}

func (s *State) continuePotentialJSON() string {
	if loc := toolCallPrefix.FindIndex(s.buf); loc != nil {
		jsonStart := loc[0] + strings.IndexByte(string(s.buf[loc[0]:loc[1]]), '{')
		return s.enterSuppression(jsonStart, "")
	}

	after := string(s.buf[s.potentialStart:])
	if ruleOutNonTool(after, bufferingDetectWindow) {
		s.mode = modeStreaming
		s.potentialStart = 0
		var out string
		if len(s.buf) > s.contentReturnedTo {
			out = string(s.buf[s.contentReturnedTo:])
		}
		s.contentReturnedTo = len(s.buf)
		s.compact()
		return out
	}
	return ""
}

func (s *State) detectFromStreaming() string {
	tail := string(s.buf[s.contentReturnedTo:])

	loc := potentialJSONLine.FindStringIndex(tail)
	if loc == nil {
		loc = toolCallComplete.FindIndex(s.buf[s.contentReturnedTo:])
		if loc == nil {
			if len(s.buf) > s.contentReturnedTo {
				out := string(s.buf[s.contentReturnedTo:])
				s.contentReturnedTo = len(s.buf)
				s.compact()
				return out
			}
			return ""
		}
	}

	matchStart := s.contentReturnedTo + loc[0]
	matchText := string(s.buf[s.contentReturnedTo+loc[0] : s.contentReturnedTo+loc[1]])
	bracePos := matchStart + strings.IndexByte(matchText, '{')

	if toolCallPrefix.MatchString(string(s.buf[bracePos:])) {
		before := ""
		if bracePos > s.contentReturnedTo {
			before = string(s.buf[s.contentReturnedTo:bracePos])
		}
		s.contentReturnedTo = bracePos
		return s.enterSuppression(bracePos, before)
	}

	before := ""
	if bracePos > s.contentReturnedTo {
		before = string(s.buf[s.contentReturnedTo:bracePos])
	}
	s.contentReturnedTo = bracePos
	s.mode = modePotentialJSON
	s.potentialStart = bracePos

	after := string(s.buf[bracePos:])
	if ruleOutNonTool(after, bufferingDetectWindow) {
		s.mode = modeStreaming
		rest := ""
		if len(s.buf) > s.contentReturnedTo {
			rest = string(s.buf[s.contentReturnedTo:])
		}
		s.contentReturnedTo = len(s.buf)
		s.compact()
		return before + rest
	}
	return before
}

// ruleOutNonTool applies the ground-truth heuristic for abandoning a
// potential-JSON candidate: a closing brace already present, a newline
// right after the opening brace, or (once long enough) a first-key that
// provably isn't "tool".
func ruleOutNonTool(afterBrace string, detectWindow int) bool {
	hasClosingBrace := strings.Contains(afterBrace, "}")
	hasNewline := len(afterBrace) > 1 && strings.Contains(afterBrace[1:], "\n")
	longEnough := len(afterBrace) >= detectWindow
	definitelyNotTool := notToolPattern.MatchString(afterBrace)
	return hasClosingBrace || hasNewline || (longEnough && definitelyNotTool)
}

// compact drops fully-resolved bytes from the front of buf once nothing
// still references them by offset, keeping the filter's steady-state
// memory bounded to the live candidate region.
func (s *State) compact() {
	if s.mode != modeStreaming {
		return
	}
	if s.contentReturnedTo == 0 {
		return
	}
	s.buf = append([]byte(nil), s.buf[s.contentReturnedTo:]...)
	s.contentReturnedTo = 0
}

// extractWithoutJSON returns full with the complete JSON object starting
// at jsonStart removed, honoring string/escape state so a '}' inside a
// string literal never ends the object early.
func extractWithoutJSON(full []byte, jsonStart int) string {
	depth := 0
	jsonEnd := jsonStart
	inString := false
	escapeNext := false

	for i := jsonStart; i < len(full); i++ {
		ch := full[i]
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
				jsonEnd = i + 1
				i = len(full)
			}
		}
	}

	before := string(full[:jsonStart])
	after := ""
	if jsonEnd < len(full) {
		after = string(full[jsonEnd:])
	}
	return before + after
}

func isUTF8Boundary(b []byte, i int) bool {
	if i <= 0 || i >= len(b) {
		return true
	}
	return b[i]&0xC0 != 0x80
}
