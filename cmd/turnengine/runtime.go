package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/turnengine/internal/observability"
	"github.com/haasonsaas/turnengine/internal/providers/anthropic"
	"github.com/haasonsaas/turnengine/internal/providers/openai"
	"github.com/haasonsaas/turnengine/internal/runconfig"
	"github.com/haasonsaas/turnengine/internal/tools/browser"
	"github.com/haasonsaas/turnengine/internal/tools/schema"
	turnacd "github.com/haasonsaas/turnengine/internal/turn/acd"
	turncontext "github.com/haasonsaas/turnengine/internal/turn/context"
	"github.com/haasonsaas/turnengine/internal/turn/dispatch"
	"github.com/haasonsaas/turnengine/internal/turn/engine"
	turnsession "github.com/haasonsaas/turnengine/internal/turn/session"
)

// runtime bundles everything a turn needs: the engine itself plus the
// collaborators the REPL's slash commands reach into directly (the
// session store, the fragment store, and the window they share).
type runtime struct {
	cfg           *runconfig.Config
	engine        *engine.Engine
	window        *turncontext.Window
	sessions      *turnsession.Store
	fragments     *turnacd.Store
	pool          *browser.Pool
	shutdownTrace func(context.Context) error
}

// toolDescriptions supplies the human-readable description each builtin
// schema's json.RawMessage doesn't carry on its own; providers need both
// to advertise a tool to the model.
var toolDescriptions = map[string]string{
	"shell":        "Execute a shell command and return its combined output.",
	"read_file":    "Read a UTF-8 text file from the workspace, optionally a character range.",
	"write_file":   "Write content to a file in the workspace, creating or overwriting it.",
	"str_replace":  "Apply a unified diff to a file already present in the workspace.",
	"todo_read":    "Read the current session's TODO list.",
	"todo_write":   "Replace the current session's TODO list.",
	"research":     "Queue a research question for the pending research manager.",
	"remember":     "Append discoveries to the session's working memory.",
	"rehydrate":    "Restore a dehydrated context fragment by id, ending the turn with it reloaded.",
	"final_output": "End the turn, reporting a concise summary of what was accomplished.",
}

func newRuntime(cfg *runconfig.Config) (*runtime, error) {
	sessions, err := turnsession.NewStore(cfg.Session.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("turnengine: open session store: %w", err)
	}
	fragments, err := turnacd.NewStore(cfg.Session.WorkspacePath + "/fragments")
	if err != nil {
		return nil, fmt.Errorf("turnengine: open fragment store: %w", err)
	}

	schemas := schema.NewRegistry()
	if err := schema.RegisterBuiltins(schemas); err != nil {
		return nil, fmt.Errorf("turnengine: register builtin schemas: %w", err)
	}

	tools := dispatch.NewRegistry()
	pool, err := registerBuiltinTools(tools, schemas, cfg)
	if err != nil {
		return nil, err
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	window := turncontext.New(cfg.Provider.Model)

	eng := engine.New(provider, tools, window)
	eng.Logger = slog.Default()

	var shutdownTrace func(context.Context) error
	// OTEL_EXPORTER_OTLP_ENDPOINT follows the OpenTelemetry SDK's own
	// environment convention rather than a turnengine-specific flag, so
	// the same collector endpoint configures every OTLP-aware process in
	// a deployment uniformly.
	if endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); endpoint != "" {
		tracer, shutdown := observability.NewTracer(observability.TraceConfig{
			ServiceName:    "turnengine",
			ServiceVersion: version,
			Endpoint:       endpoint,
			EnableInsecure: os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		})
		eng.Tracer = tracer
		shutdownTrace = shutdown
	}

	return &runtime{
		cfg:           cfg,
		engine:        eng,
		window:        window,
		sessions:      sessions,
		fragments:     fragments,
		pool:          pool,
		shutdownTrace: shutdownTrace,
	}, nil
}

func (r *runtime) Close(ctx context.Context) {
	if r.pool != nil {
		_ = r.pool.Close()
	}
	if r.shutdownTrace != nil {
		_ = r.shutdownTrace(ctx)
	}
}

// newMessageID mints an id for a freshly created Message or session
// Record; ids already assigned by a provider (ToolCall.ID) are never
// overwritten.
func newMessageID() string {
	return uuid.NewString()
}

func unmarshalArgs(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed tool arguments: %w", err)
	}
	return nil
}

func builtinToolNames() []string {
	names := make([]string, 0, len(schema.BuiltinSchemas))
	for name := range schema.BuiltinSchemas {
		names = append(names, name)
	}
	return names
}

func buildProvider(cfg *runconfig.Config) (engine.Provider, error) {
	names := builtinToolNames()

	switch cfg.Provider.Name {
	case "openai":
		p, err := openai.New(openai.Config{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			Model:     cfg.Provider.Model,
			MaxTokens: cfg.Provider.MaxTokens,
			System:    cfg.Provider.System,
			Tools:     openaiToolDefs(names),
		})
		if err != nil {
			return nil, fmt.Errorf("turnengine: build openai provider: %w", err)
		}
		return p, nil
	default:
		p, err := anthropic.New(anthropic.Config{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			Model:     cfg.Provider.Model,
			MaxTokens: cfg.Provider.MaxTokens,
			System:    cfg.Provider.System,
			Tools:     anthropicToolDefs(names),
		})
		if err != nil {
			return nil, fmt.Errorf("turnengine: build anthropic provider: %w", err)
		}
		return p, nil
	}
}

func anthropicToolDefs(names []string) []anthropic.ToolDef {
	defs := make([]anthropic.ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, anthropic.ToolDef{
			Name:        name,
			Description: toolDescriptions[name],
			Schema:      []byte(schema.BuiltinSchemas[name]),
		})
	}
	return defs
}

func openaiToolDefs(names []string) []openai.ToolDef {
	defs := make([]openai.ToolDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, openai.ToolDef{
			Name:        name,
			Description: toolDescriptions[name],
			Schema:      []byte(schema.BuiltinSchemas[name]),
		})
	}
	return defs
}

// newSessionRecord snapshots rt's current window into a session.Record
// ready to persist, stamping CreatedAt only the first time a given id is
// saved would be ideal, but Store.Save always overwrites UpdatedAt and a
// fresh CreatedAt on every save is harmless for a single-process CLI.
func newSessionRecord(id string, rt *runtime) *turnsession.Record {
	return &turnsession.Record{
		ID:        id,
		CreatedAt: time.Now(),
		Model:     rt.cfg.Provider.Model,
		Messages:  rt.window.Messages,
	}
}

func loadConfig(path string) (*runconfig.Config, error) {
	if _, err := os.Stat(path); err != nil {
		cfg := runconfig.Default()
		return cfg, nil
	}
	return runconfig.Load(path)
}
