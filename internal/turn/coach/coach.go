// Package coach runs the autonomous two-persona loop: a player turn that
// does the work, and a coach turn that reviews it, alternating until the
// coach grants approval or the turn cap is reached. The two personas run
// against separate engines with separate context windows — the player
// never sees the coach's chat history, only the feedback string the coach
// produced, and the coach never sees the player's raw reasoning, only
// whatever filesystem artifacts it inspects through its own tools.
package coach

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/turnengine/internal/turn/engine"
	"github.com/haasonsaas/turnengine/internal/turn/feedback"
	"github.com/haasonsaas/turnengine/internal/turn/retry"
	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// ApprovalToken is the literal string a coach turn must emit, in its
// extracted feedback, to end the loop with success.
const ApprovalToken = "IMPLEMENTATION_APPROVED"

// defaultSettle is how long the loop waits between a player turn and the
// following coach turn, giving the player's file writes time to land
// before the coach's tools read them.
const defaultSettle = 500 * time.Millisecond

// outcome classifies how one persona's turn ended.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeSoftFailure // context length exceeded; counts as the turn
	outcomeRetryableError
)

// EngineFactory returns a freshly constructed engine for a single turn.
// The loop calls this once per persona per turn so the player and coach
// never share a context window.
type EngineFactory func() *engine.Engine

// PlayerPrompt builds the opening user message for a player turn from the
// running requirements text, its hash, and the coach's last feedback
// (empty on the first turn).
type PlayerPrompt func(requirements, requirementsSHA, coachFeedback string) string

// CoachPrompt builds the opening user message for a coach turn.
type CoachPrompt func(requirements, requirementsSHA string) string

// ForensicBlob is a record of a persona turn ending in a recoverable but
// unrecoverable-within-the-turn way (context length exceeded), written so
// a post-mortem can see what usage and prompt size triggered it.
type ForensicBlob struct {
	Turn       int
	Role       string // "Player" or "Coach"
	UsedTokens int
	PromptLen  int
	At         time.Time
}

// ForensicSink records a ForensicBlob. Nil is a valid Sink: it simply
// drops the record, which is fine for a deployment with no forensic log.
type ForensicSink func(ForensicBlob)

// Loop runs the player/coach alternation.
type Loop struct {
	Player EngineFactory
	Coach  EngineFactory

	Requirements string
	MaxTurns     int

	PlayerPrompt PlayerPrompt
	CoachPrompt  CoachPrompt

	// Settle overrides the default inter-persona pause; a test seam, and
	// a knob for deployments that write to slower storage.
	Settle time.Duration

	// Forensics receives a record whenever a turn ends soft-failed. Nil
	// is valid and simply discards the record.
	Forensics ForensicSink

	// Now lets tests pin the forensic timestamp; defaults to time.Now.
	Now func() time.Time
}

// Result summarizes how the loop ended.
type Result struct {
	Approved     bool
	Turns        int
	Reason       string
	LastFeedback string
}

// RequirementsSHA returns the hex-encoded SHA-256 of a requirements
// document, injected into every player prompt so a requirements file
// changed mid-run is observable to the player persona.
func RequirementsSHA(requirements string) string {
	sum := sha256.Sum256([]byte(requirements))
	return hex.EncodeToString(sum[:])
}

// Run drives the loop to completion: approval, the turn cap, a
// non-recoverable persona error (returned to the caller), or context
// cancellation. A persona panic is not recovered here and propagates to
// the caller, per the loop's hard-panic contract.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	if l.MaxTurns <= 0 {
		return Result{}, fmt.Errorf("coach: MaxTurns must be positive")
	}
	sha := RequirementsSHA(l.Requirements)
	coachFeedback := ""

	for t := 1; t <= l.MaxTurns; t++ {
		player := l.Player()
		player.Window.Append(types.Message{
			Role:    types.RoleUser,
			Content: l.PlayerPrompt(l.Requirements, sha, coachFeedback),
		})

		_, err := player.Run(ctx)
		switch classify(err) {
		case outcomeRetryableError:
			return Result{Turns: t, Reason: "player turn failed", LastFeedback: coachFeedback}, err
		case outcomeSoftFailure:
			l.recordForensic(t, "Player", player)
			coachFeedback = "Player hit a context-length limit and did not complete; retry with a smaller step."
			if t == l.MaxTurns {
				return Result{Turns: t, Reason: "max turns reached", LastFeedback: coachFeedback}, nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return Result{Turns: t, Reason: "canceled", LastFeedback: coachFeedback}, ctx.Err()
		case <-time.After(l.settleDuration()):
		}

		coachEng := l.Coach()
		coachEng.Window.Append(types.Message{
			Role:    types.RoleUser,
			Content: l.CoachPrompt(l.Requirements, sha),
		})

		coachResult, err := coachEng.Run(ctx)
		switch classify(err) {
		case outcomeRetryableError:
			return Result{Turns: t, Reason: "coach turn failed", LastFeedback: coachFeedback}, err
		case outcomeSoftFailure:
			l.recordForensic(t, "Coach", coachEng)
			coachFeedback = "Coach failed — using default feedback"
			if t == l.MaxTurns {
				return Result{Turns: t, Reason: "max turns reached", LastFeedback: coachFeedback}, nil
			}
			continue
		}

		fb := feedback.Extract(coachEng.Window.Messages, "", coachResult.FinalText)
		if strings.Contains(fb.Feedback, ApprovalToken) {
			return Result{Approved: true, Turns: t, Reason: "approved", LastFeedback: fb.Feedback}, nil
		}

		coachFeedback = fb.Feedback
		if t == l.MaxTurns {
			return Result{Turns: t, Reason: "max turns reached", LastFeedback: coachFeedback}, nil
		}
	}

	return Result{Turns: l.MaxTurns, Reason: "max turns reached", LastFeedback: coachFeedback}, nil
}

func (l *Loop) settleDuration() time.Duration {
	if l.Settle > 0 {
		return l.Settle
	}
	return defaultSettle
}

func (l *Loop) recordForensic(turn int, role string, e *engine.Engine) {
	if l.Forensics == nil {
		return
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	promptLen := 0
	for _, m := range e.Window.Messages {
		promptLen += len(m.Content)
	}
	l.Forensics(ForensicBlob{
		Turn:       turn,
		Role:       role,
		UsedTokens: e.Window.EstimatedTokens(),
		PromptLen:  promptLen,
		At:         now(),
	})
}

// classify maps a turn's terminal error onto an outcome. A nil error is
// success; a ClassContextLengthExceeded classification is a soft failure
// that still counts as the turn; anything else is treated as a retryable
// error that the loop surfaces to its caller rather than retrying itself
// (the engine's own streamWithRetry already retried what it could).
func classify(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	if retry.Classify(err) == retry.ClassContextLengthExceeded {
		return outcomeSoftFailure
	}
	return outcomeRetryableError
}
