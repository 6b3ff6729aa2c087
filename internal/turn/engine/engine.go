// Package engine runs one agent turn end to end: stream a model
// response through the filter and tool parser, dispatch any tool calls
// it contains, append the results, and loop until the model stops
// calling tools or a safety limit is hit.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/turnengine/internal/observability"
	turncontext "github.com/haasonsaas/turnengine/internal/turn/context"
	"github.com/haasonsaas/turnengine/internal/turn/dispatch"
	"github.com/haasonsaas/turnengine/internal/turn/filter"
	"github.com/haasonsaas/turnengine/internal/turn/retry"
	"github.com/haasonsaas/turnengine/internal/turn/toolparser"
	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// MaxIterations bounds how many model-call/tool-dispatch round trips a
// single turn can make before the engine gives up and ends the turn,
// guarding against a model that never stops calling tools.
const MaxIterations = 400

// Provider is the engine's view of an LLM backend: stream one response
// given the current message history, yielding chunks until the response
// finishes.
type Provider interface {
	Stream(ctx context.Context, messages []types.Message) (<-chan types.Chunk, error)
}

// Engine runs turns against a Provider, a tool registry, and a context
// window, retrying recoverable provider errors along the way.
type Engine struct {
	Provider    Provider
	Tools       *dispatch.Registry
	Window      *turncontext.Window
	Concurrency int
	Logger      *slog.Logger

	// Dehydrator offloads a prefix of the window's messages to disk and
	// replaces them with a stub when context usage reaches the
	// dehydration tier. It is optional: a deployment with no fragment
	// store simply skips that tier rather than erroring.
	Dehydrator Dehydrator

	// Tracer emits a span per turn and per provider stream when set. A
	// nil Tracer (the zero value) disables tracing entirely rather than
	// requiring every deployment to wire one up.
	Tracer *observability.Tracer
}

// New returns an Engine ready to run turns.
func New(p Provider, tools *dispatch.Registry, window *turncontext.Window) *Engine {
	return &Engine{
		Provider:    p,
		Tools:       tools,
		Window:      window,
		Concurrency: 4,
		Logger:      slog.Default(),
	}
}

// TurnResult summarizes what happened over the course of Run.
type TurnResult struct {
	FinalText  string
	Iterations int
	Terminated bool // true if a terminal tool ended the turn
}

// Run drives the turn loop: stream, filter, parse tool calls, dispatch,
// append results, and repeat until the model produces a response with no
// tool calls, a terminal tool fires, the iteration cap is hit, or ctx is
// canceled.
func (e *Engine) Run(ctx context.Context) (TurnResult, error) {
	var result TurnResult

	ctx, turnSpan := e.startSpan(ctx, "turn.run")
	defer turnSpan.End()

	for iter := 1; iter <= MaxIterations; iter++ {
		result.Iterations = iter

		chunks, err := e.streamWithRetry(ctx, iter)
		if err != nil {
			e.recordError(turnSpan, err)
			return result, fmt.Errorf("engine: stream turn: %w", err)
		}

		text, calls, usage := e.consume(chunks)
		if usage != nil {
			e.Window.RecordUsage(usage)
		}

		if text == "" && len(calls) == 0 {
			e.Logger.Warn("engine: empty response from provider", "iteration", iter)
			return result, fmt.Errorf("engine: empty response on iteration %d", iter)
		}

		assistantMsg := types.Message{
			Role:      types.RoleAssistant,
			Content:   text,
			ToolCalls: calls,
		}
		e.Window.Append(assistantMsg)
		result.FinalText = text

		if len(calls) == 0 {
			return result, nil
		}

		results := e.Tools.DispatchAll(ctx, calls, e.Concurrency)
		terminal := false
		for _, r := range results {
			e.Window.Append(types.Message{
				Role:       types.RoleUser,
				Kind:       types.KindToolResult,
				Content:    r.Output.Content,
				ToolCallID: r.Output.ToolCallID,
				IsError:    r.Output.IsError,
			})
			if r.Terminal {
				terminal = true
			}
		}
		if terminal {
			result.Terminated = true
			return result, nil
		}

		if err := e.manageContext(ctx); err != nil {
			return result, fmt.Errorf("engine: context management: %w", err)
		}
	}

	return result, fmt.Errorf("engine: exceeded %d iterations without completing", MaxIterations)
}

// streamWithRetry opens a provider stream, retrying recoverable errors
// (a connection drop before any bytes arrive, a 5xx on the initial
// request) with the interactive backoff regime. Once streaming has
// begun, a mid-stream error is the caller's problem: re-sending a
// half-consumed conversation is not safe to do automatically.
func (e *Engine) streamWithRetry(ctx context.Context, iteration int) (<-chan types.Chunk, error) {
	ctx, span := e.startSpan(ctx, "turn.stream")
	e.setAttributes(span, "iteration", iteration, "message_count", len(e.Window.Messages))
	defer span.End()

	chunks, err := retry.WithBackoff(ctx, retry.RegimeInteractive, 5, func(ctx context.Context) (<-chan types.Chunk, error) {
		return e.Provider.Stream(ctx, e.Window.Messages)
	})
	e.recordError(span, err)
	return chunks, err
}

// startSpan begins a span via e.Tracer when one is configured, and
// otherwise returns ctx unchanged with whatever (possibly no-op) span
// is already attached to it, so callers never need to nil-check Tracer
// themselves.
func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if e.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return e.Tracer.Start(ctx, name)
}

func (e *Engine) recordError(span trace.Span, err error) {
	if e.Tracer == nil || err == nil {
		return
	}
	e.Tracer.RecordError(span, err)
}

func (e *Engine) setAttributes(span trace.Span, keyvals ...any) {
	if e.Tracer == nil {
		return
	}
	e.Tracer.SetAttributes(span, keyvals...)
}

// consume drains a chunk stream through the filter and tool parser,
// returning the user-visible text, any completed tool calls, and the
// final usage figure if the provider reported one.
func (e *Engine) consume(chunks <-chan types.Chunk) (string, []types.ToolCall, *types.Usage) {
	f := filter.New()
	p := toolparser.New()
	var text string
	var usage *types.Usage

	for chunk := range chunks {
		if chunk.TextDelta != "" {
			visible := f.Feed(chunk.TextDelta)
			text += visible
			p.FeedText(visible)
		}
		if chunk.ToolDelta != nil {
			p.FeedDelta(*chunk.ToolDelta)
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	text += f.Flush()

	return text, p.Finalize(), usage
}

// manageContext checks the window's usage and applies whichever
// escalation tier Check recommends. Compaction needs a model call the
// engine itself owns (it uses the same Provider the turn is running
// against, with a throwaway single-shot request), so it lives here
// rather than inside the context package.
func (e *Engine) manageContext(ctx context.Context) error {
	switch e.Window.Check() {
	case turncontext.ActionThin:
		e.Window.Thin(4)
	case turncontext.ActionCompact:
		splitAt := len(e.Window.Messages) - 4
		if splitAt <= 0 {
			return nil
		}
		return e.Window.Compact(splitAt, func(prefix []types.Message) (string, error) {
			return e.summarize(ctx, prefix)
		})
	case turncontext.ActionDehydrate:
		// Dehydration offloads to the acd package, which needs a
		// session-scoped fragment store the engine doesn't own directly;
		// the caller wires this in via Engine.Dehydrator when dehydration
		// is in scope for a deployment.
		if e.Dehydrator != nil {
			return e.Dehydrator(ctx, e.Window)
		}
	}
	return nil
}

// Dehydrator offloads a prefix of the window's messages to disk and
// replaces them with a stub, returning an error only if the offload
// itself fails (a missing Dehydrator is not an error: dehydration is
// optional infrastructure a deployment may not need).
type Dehydrator func(ctx context.Context, w *turncontext.Window) error

func (e *Engine) summarize(ctx context.Context, prefix []types.Message) (string, error) {
	chunks, err := e.Provider.Stream(ctx, append(prefix, types.Message{
		Role:    types.RoleUser,
		Content: "Summarize the conversation so far in a few sentences, preserving any decisions made and open threads.",
	}))
	if err != nil {
		return "", err
	}
	var summary string
	for chunk := range chunks {
		summary += chunk.TextDelta
	}
	return summary, nil
}
