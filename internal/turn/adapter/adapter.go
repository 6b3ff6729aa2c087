// Package adapter normalizes provider-specific streaming tool-call
// encodings into the engine's canonical {"tool":...,"args":...} shape
// before the chunk ever reaches the streaming filter or tool parser.
// Most providers already emit structured deltas the parser understands
// directly; this package exists for the few that instead interleave a
// plain-text sentinel into the token stream.
package adapter

import (
	"strings"
)

const (
	// MaxSentinelNameLen bounds how long a tool name inside a sentinel can
	// be before the adapter gives up treating it as one and passes the
	// text through unmodified.
	MaxSentinelNameLen = 256
	// MaxSentinelBodyLen bounds the buffered body of a sentinel-delimited
	// call before the adapter abandons the candidate.
	MaxSentinelBodyLen = 1 << 16
)

// Transducer rewrites one family's streamed sentinel form into the
// canonical tool-call JSON form, a chunk at a time.
type Transducer interface {
	// Feed consumes one chunk of raw provider text and returns the
	// canonicalized text to hand to the filter/parser. It may return an
	// empty string while a sentinel is still being buffered.
	Feed(chunk string) string
	// Flush returns any text still buffered at end of stream.
	Flush() string
	// Reset clears buffered state for reuse across turns.
	Reset()
}

// registry is the process-wide map of model family name to constructor,
// assembled once at init, mirroring the provider-registry idiom used
// elsewhere for per-family behavior.
var registry = map[string]func() Transducer{}

// Register installs a Transducer constructor under a model family name.
// Call from an init() in the package implementing that family's adapter.
func Register(family string, ctor func() Transducer) {
	registry[family] = ctor
}

// For returns a fresh Transducer for the named model family, or a no-op
// passthrough transducer if the family needs no adaptation (the common
// case: providers that already speak native structured tool calls).
func For(family string) Transducer {
	if ctor, ok := registry[family]; ok {
		return ctor()
	}
	return passthrough{}
}

type passthrough struct{}

func (passthrough) Feed(chunk string) string { return chunk }
func (passthrough) Flush() string            { return "" }
func (passthrough) Reset()                   {}

func init() {
	Register("glm-sentinel", func() Transducer { return newSentinelTransducer() })
}

// sentinelTransducer rewrites a GLM-style sentinel-delimited tool call,
// e.g. "<|tool_call|>name\n{...}<|/tool_call|>", into the canonical
// {"tool":"name","args":{...}} form. The sentinels never span a brace or
// quote the JSON body depends on, so this never needs string-aware
// scanning of its own; it defers that to the JSON body itself once
// extracted.
type sentinelTransducer struct {
	buf        strings.Builder
	inSentinel bool
}

const (
	sentinelOpen  = "<|tool_call|>"
	sentinelClose = "<|/tool_call|>"
)

func newSentinelTransducer() *sentinelTransducer {
	return &sentinelTransducer{}
}

func (t *sentinelTransducer) Reset() {
	t.buf.Reset()
	t.inSentinel = false
}

func (t *sentinelTransducer) Feed(chunk string) string {
	var out strings.Builder
	rest := chunk
	for len(rest) > 0 {
		if !t.inSentinel {
			idx := strings.Index(rest, sentinelOpen)
			if idx < 0 {
				out.WriteString(rest)
				return out.String()
			}
			out.WriteString(rest[:idx])
			t.inSentinel = true
			rest = rest[idx+len(sentinelOpen):]
			continue
		}

		idx := strings.Index(rest, sentinelClose)
		if idx < 0 {
			t.buf.WriteString(rest)
			if t.buf.Len() > MaxSentinelBodyLen {
				// Runaway sentinel: give up treating it as one and emit
				// what was buffered as plain text.
				out.WriteString(sentinelOpen)
				out.WriteString(t.buf.String())
				t.Reset()
			}
			return out.String()
		}

		t.buf.WriteString(rest[:idx])
		out.WriteString(canonicalize(t.buf.String()))
		t.buf.Reset()
		t.inSentinel = false
		rest = rest[idx+len(sentinelClose):]
	}
	return out.String()
}

func (t *sentinelTransducer) Flush() string {
	if !t.inSentinel {
		return ""
	}
	out := sentinelOpen + t.buf.String()
	t.Reset()
	return out
}

// canonicalize turns "name\n{...}" into {"tool":"name","args":{...}}. If
// the body doesn't have the expected shape it is returned unchanged, as
// plain text, rather than dropped.
func canonicalize(body string) string {
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return body
	}
	name := strings.TrimSpace(body[:nl])
	args := strings.TrimSpace(body[nl+1:])
	if name == "" || len(name) > MaxSentinelNameLen || !strings.HasPrefix(args, "{") {
		return body
	}
	return `{"tool":"` + name + `","args":` + args + `}`
}
