// Package dispatch routes parsed tool calls to their handlers and
// collects results in the same order the calls were parsed in, which the
// engine depends on to keep tool_result messages aligned with the
// assistant turn that requested them.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

const (
	// MaxToolNameLength bounds a tool name before dispatch refuses it
	// outright as malformed rather than looking it up.
	MaxToolNameLength = 256
	// MaxToolParamsSize bounds a tool call's argument payload.
	MaxToolParamsSize = 10 << 20
)

// Handler executes one tool call and returns its textual result. A
// handler returning an error produces an IsError tool result rather than
// aborting the turn; only a terminal tool ends the turn early.
type Handler func(ctx context.Context, call types.ToolCall) (string, error)

// Registry is the process-wide, static set of tools the engine can
// dispatch to. It is built once at startup and read concurrently by
// every in-flight turn.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	terminal map[string]bool
}

// NewRegistry returns an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		terminal: make(map[string]bool),
	}
}

// Register installs a handler for a tool name. Registering under a name
// already in use replaces the previous handler.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterTerminal installs a handler for a tool name and marks it
// terminal: a successful call to it ends the turn immediately rather than
// looping back to the model (e.g. "final_output", "rehydrate").
func (r *Registry) RegisterTerminal(name string, h Handler) {
	r.Register(name, h)
	r.mu.Lock()
	r.terminal[name] = true
	r.mu.Unlock()
}

// IsTerminal reports whether name was registered as a terminal tool.
func (r *Registry) IsTerminal(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.terminal[name]
}

// Result pairs a dispatched call with its outcome and whether that
// outcome ended the turn.
type Result struct {
	Call     types.ToolCall
	Output   types.ToolResult
	Terminal bool
}

// Dispatch executes one call against the registry. An unknown tool is
// not fatal: it produces a result telling the model the tool doesn't
// exist, so the model can recover within the same turn.
func (r *Registry) Dispatch(ctx context.Context, call types.ToolCall) Result {
	if len(call.Name) > MaxToolNameLength {
		return Result{Call: call, Output: types.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("❌ tool name too long: %d bytes", len(call.Name)),
			IsError:    true,
		}}
	}
	if len(call.Args) > MaxToolParamsSize {
		return Result{Call: call, Output: types.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("❌ tool arguments too large: %d bytes", len(call.Args)),
			IsError:    true,
		}}
	}

	r.mu.RLock()
	h, ok := r.handlers[call.Name]
	terminal := r.terminal[call.Name]
	r.mu.RUnlock()

	if !ok {
		return Result{Call: call, Output: types.ToolResult{
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("❓ Unknown tool: %s", call.Name),
			IsError:    true,
		}}
	}

	content, err := h(ctx, call)
	if err != nil {
		return Result{Call: call, Output: types.ToolResult{
			ToolCallID: call.ID,
			Content:    err.Error(),
			IsError:    true,
		}}
	}
	return Result{Call: call, Output: types.ToolResult{
		ToolCallID: call.ID,
		Content:    content,
	}, Terminal: terminal}
}

// DispatchAll runs every call concurrently but returns results in the
// same order calls were given in, satisfying the engine's ordering
// requirement regardless of how long any individual tool takes. If a
// terminal tool's call is present, dispatch still runs the rest (a model
// may reasonably finish other work in the same turn), but the caller
// should stop iterating and end the turn once it sees Terminal on a
// result.
func (r *Registry) DispatchAll(ctx context.Context, calls []types.ToolCall, concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([]Result, len(calls))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, call types.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.Dispatch(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}
