// Package acd implements Aggressive Context Dehydration: the last-resort
// tier of context management. A run of messages too large to keep live
// or to compact into a summary is written to disk as an immutable
// fragment and replaced in the conversation with a short stub. The
// fragment can later be rehydrated — read back and reinserted — if the
// conversation needs it again.
package acd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// Fragment is an immutable, disk-persisted slice of conversation history
// offloaded by dehydration.
type Fragment struct {
	ID                  string          `json:"id"`
	CreatedAt           time.Time       `json:"created_at"`
	PrecedingFragmentID string          `json:"preceding_fragment_id,omitempty"`
	Messages            []types.Message `json:"messages"`
	Topics              []string        `json:"topics"`
	ToolCallSummary     string          `json:"tool_call_summary"`
	EstimatedTokens      int             `json:"estimated_tokens"`
}

// Store persists and retrieves fragments on disk under a session's
// fragments directory, and tracks the chain of preceding-fragment links
// so a rehydrate can walk backward through history.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if necessary.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("acd: create fragments dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// generateFragmentID derives a short, monotonically-increasing-enough id
// from a high-resolution timestamp: 12 hex characters of nanoseconds
// since the Unix epoch, low bits first so successive calls within the
// same process don't collide even when CreatedAt has coarser
// resolution on some platforms.
func generateFragmentID(now time.Time) string {
	ns := uint64(now.UnixNano())
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(ns >> (8 * i))
	}
	return hex.EncodeToString(b)[:12]
}

// estimateFragmentTokens applies the same conservative heuristic as the
// live context window: roughly 4 characters per token, with a 10%
// safety margin, rounded up.
func estimateFragmentTokens(messages []types.Message) int {
	chars := 0
	for _, m := range messages {
		chars += utf8.RuneCountInString(m.Content)
		for _, tc := range m.ToolCalls {
			chars += utf8.RuneCountInString(tc.Name) + utf8.RuneCountInString(string(tc.Args))
		}
	}
	return int(math.Ceil(float64(chars) / 4.0 * 1.1))
}

var topicWordPattern = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_\-]{3,}`)

// extractTopicFromText returns up to a handful of capitalized-looking or
// otherwise salient words from a message as a cheap topic hint — this is
// a heuristic label for a human skimming fragment metadata, not a
// summarization call; dehydration must not itself need a model.
func extractTopicFromText(text string) []string {
	words := topicWordPattern.FindAllString(text, -1)
	seen := make(map[string]bool)
	var out []string
	for _, w := range words {
		lw := strings.ToLower(w)
		if seen[lw] {
			continue
		}
		seen[lw] = true
		out = append(out, w)
		if len(out) >= 5 {
			break
		}
	}
	return out
}

// extractTopics aggregates topic hints across every message in a
// fragment's content, deduplicated.
func extractTopics(messages []types.Message) []string {
	seen := make(map[string]bool)
	var topics []string
	for _, m := range messages {
		for _, t := range extractTopicFromText(m.Content) {
			lt := strings.ToLower(t)
			if seen[lt] {
				continue
			}
			seen[lt] = true
			topics = append(topics, t)
		}
	}
	sort.Strings(topics)
	return topics
}

// extractToolCallSummary gives a one-line accounting of which tools ran
// in a fragment, e.g. "shell x3, read_file x1", so a stub can tell a
// reader what kind of work is being hidden without rehydrating it.
func extractToolCallSummary(messages []types.Message) string {
	counts := map[string]int{}
	var order []string
	for _, m := range messages {
		for _, tc := range m.ToolCalls {
			if counts[tc.Name] == 0 {
				order = append(order, tc.Name)
			}
			counts[tc.Name]++
		}
	}
	if len(order) == 0 {
		return "no tool calls"
	}
	parts := make([]string, 0, len(order))
	for _, name := range order {
		parts = append(parts, fmt.Sprintf("%s x%d", name, counts[name]))
	}
	return strings.Join(parts, ", ")
}

// New builds a Fragment from a run of messages, computing its derived
// fields (id, topics, tool summary, token estimate) but does not persist
// it; call Store.Save to write it to disk.
func New(messages []types.Message, precedingFragmentID string, now time.Time) Fragment {
	return Fragment{
		ID:                  generateFragmentID(now),
		CreatedAt:           now,
		PrecedingFragmentID: precedingFragmentID,
		Messages:            messages,
		Topics:              extractTopics(messages),
		ToolCallSummary:     extractToolCallSummary(messages),
		EstimatedTokens:     estimateFragmentTokens(messages),
	}
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save persists a fragment. Fragments are content-immutable once
// written: Save refuses to overwrite an existing id.
func (s *Store) Save(f Fragment) error {
	p := s.path(f.ID)
	if _, err := os.Stat(p); err == nil {
		return fmt.Errorf("acd: fragment %s already exists, fragments are immutable", f.ID)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("acd: marshal fragment: %w", err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return fmt.Errorf("acd: write fragment %s: %w", f.ID, err)
	}
	return nil
}

// Load reads a fragment by id.
func (s *Store) Load(id string) (Fragment, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return Fragment{}, fmt.Errorf("acd: read fragment %s: %w", id, err)
	}
	var f Fragment
	if err := json.Unmarshal(data, &f); err != nil {
		return Fragment{}, fmt.Errorf("acd: unmarshal fragment %s: %w", id, err)
	}
	return f, nil
}

// ListFragments returns every fragment id present in the store, oldest
// first by filesystem order (fragment ids themselves are not globally
// sortable across process restarts since they derive from a raw
// timestamp, not a counter).
func (s *Store) ListFragments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("acd: list fragments: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestFragmentID returns the chain tail: the fragment id that no other
// fragment names as its PrecedingFragmentID, or "" if the store is
// empty. This walks the full chain rather than trusting file mtimes,
// since fragments are immutable and never touched after creation.
func (s *Store) LatestFragmentID() (string, error) {
	ids, err := s.ListFragments()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", nil
	}
	referenced := make(map[string]bool)
	for _, id := range ids {
		f, err := s.Load(id)
		if err != nil {
			return "", err
		}
		if f.PrecedingFragmentID != "" {
			referenced[f.PrecedingFragmentID] = true
		}
	}
	for _, id := range ids {
		if !referenced[id] {
			return id, nil
		}
	}
	// Every fragment is referenced by another: a cycle, which should
	// never happen given append-only chaining. Fall back to the
	// lexicographically last id rather than erroring the whole store.
	return ids[len(ids)-1], nil
}

// Stub renders the placeholder text that replaces a dehydrated run of
// messages in the live conversation.
func Stub(f Fragment) string {
	topics := "none detected"
	if len(f.Topics) > 0 {
		topics = strings.Join(f.Topics, ", ")
	}
	return fmt.Sprintf(
		"[context dehydrated: fragment %s, ~%d tokens, topics: %s, tools: %s — use rehydrate to bring this back]",
		f.ID, f.EstimatedTokens, topics, f.ToolCallSummary,
	)
}

// Rehydrate reads a fragment and the Depth-1 fragments preceding it in
// the chain (Depth <= 0 means read the whole chain back to its root),
// returning their messages in chronological order.
func (s *Store) Rehydrate(id string, depth int) ([]types.Message, error) {
	var chain []Fragment
	cur := id
	for cur != "" {
		f, err := s.Load(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, f)
		if depth > 0 {
			depth--
			if depth == 0 {
				break
			}
		}
		cur = f.PrecedingFragmentID
	}
	var messages []types.Message
	for i := len(chain) - 1; i >= 0; i-- {
		messages = append(messages, chain[i].Messages...)
	}
	return messages, nil
}
