package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/haasonsaas/turnengine/internal/runconfig"
	"github.com/haasonsaas/turnengine/internal/tools/browser"
	"github.com/haasonsaas/turnengine/internal/tools/schema"
	"github.com/haasonsaas/turnengine/internal/turn/dispatch"
	"github.com/haasonsaas/turnengine/internal/turn/types"
)

// sessionScratch holds the small pieces of mutable state a few builtin
// tools need across calls within one process (the TODO list and the
// working-memory notes), kept in memory rather than a database since a
// single turnengine process serves one conversation at a time.
type sessionScratch struct {
	mu     sync.Mutex
	todo   string
	memory strings.Builder
}

// registerBuiltinTools wires every schema in schema.BuiltinSchemas to a
// concrete handler, validating arguments against the registered schema
// before the handler runs. It also starts the browser tool's pool when
// enabled in cfg, returning it so the caller can close it on shutdown.
func registerBuiltinTools(tools *dispatch.Registry, schemas *schema.Registry, cfg *runconfig.Config) (*browser.Pool, error) {
	scratch := &sessionScratch{}

	register := func(name string, h func(args types.RawArgs) (string, error)) {
		validated := schemas.ValidatingHandler(name, h)
		tools.Register(name, func(_ context.Context, call types.ToolCall) (string, error) {
			return validated(call.Args)
		})
	}

	register("shell", handleShell)
	register("read_file", handleReadFile)
	register("write_file", handleWriteFile)
	register("str_replace", handleStrReplace)
	register("todo_read", scratch.handleTodoRead)
	register("todo_write", scratch.handleTodoWrite)
	register("remember", scratch.handleRemember)

	tools.RegisterTerminal("final_output", func(_ context.Context, call types.ToolCall) (string, error) {
		return handleFinalOutput(call.Args)
	})

	var pool *browser.Pool
	if cfg.Tools.Browser.Enabled {
		var err error
		pool, err = browser.NewPool(browser.PoolConfig{
			MaxInstances: cfg.Tools.Browser.PoolSize,
			Headless:     cfg.Tools.Browser.Headless,
			Timeout:      cfg.Tools.Browser.AcquireWait,
		})
		if err != nil {
			return nil, fmt.Errorf("turnengine: start browser pool: %w", err)
		}
		browserTool := browser.New(pool)
		tools.Register(browser.ToolName, browserTool.Handle)
	}

	return pool, nil
}

type shellArgs struct {
	Command string `json:"command"`
}

func handleShell(args types.RawArgs) (string, error) {
	var parsed shellArgs
	if err := unmarshalArgs(args, &parsed); err != nil {
		return "", err
	}
	cmd := exec.Command("sh", "-c", parsed.Command)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("shell: %w", err)
	}
	return string(out), nil
}

type readFileArgs struct {
	FilePath string `json:"file_path"`
	Start    int    `json:"start"`
	End      int    `json:"end"`
}

func handleReadFile(args types.RawArgs) (string, error) {
	var parsed readFileArgs
	if err := unmarshalArgs(args, &parsed); err != nil {
		return "", err
	}
	data, err := os.ReadFile(parsed.FilePath)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	content := string(data)
	if parsed.End > 0 && parsed.End <= len(content) && parsed.Start >= 0 && parsed.Start < parsed.End {
		content = content[parsed.Start:parsed.End]
	}
	return content, nil
}

type writeFileArgs struct {
	FilePath string `json:"file_path"`
	Content  string `json:"content"`
}

func handleWriteFile(args types.RawArgs) (string, error) {
	var parsed writeFileArgs
	if err := unmarshalArgs(args, &parsed); err != nil {
		return "", err
	}
	if err := os.WriteFile(parsed.FilePath, []byte(parsed.Content), 0o644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(parsed.Content), parsed.FilePath), nil
}

type strReplaceArgs struct {
	FilePath string `json:"file_path"`
	Diff     string `json:"diff"`
}

// handleStrReplace applies a unified diff's "-"/"+" hunk lines as a
// literal find-and-replace: it is not a full patch engine, only enough
// to let the model correct small stretches of a file in one tool call.
func handleStrReplace(args types.RawArgs) (string, error) {
	var parsed strReplaceArgs
	if err := unmarshalArgs(args, &parsed); err != nil {
		return "", err
	}
	data, err := os.ReadFile(parsed.FilePath)
	if err != nil {
		return "", fmt.Errorf("str_replace: %w", err)
	}
	content := string(data)

	var removed, added []string
	for _, line := range strings.Split(parsed.Diff, "\n") {
		switch {
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed = append(removed, strings.TrimPrefix(line, "-"))
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added = append(added, strings.TrimPrefix(line, "+"))
		}
	}
	if len(removed) == 0 {
		return "", fmt.Errorf("str_replace: diff contains no removed lines to match")
	}
	oldText := strings.Join(removed, "\n")
	newText := strings.Join(added, "\n")
	if !strings.Contains(content, oldText) {
		return "", fmt.Errorf("str_replace: %s does not contain the diff's removed lines", parsed.FilePath)
	}
	content = strings.Replace(content, oldText, newText, 1)
	if err := os.WriteFile(parsed.FilePath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("str_replace: %w", err)
	}
	return fmt.Sprintf("applied diff to %s", parsed.FilePath), nil
}

func (s *sessionScratch) handleTodoRead(types.RawArgs) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.todo == "" {
		return "(no TODO list yet)", nil
	}
	return s.todo, nil
}

type todoWriteArgs struct {
	Content string `json:"content"`
}

func (s *sessionScratch) handleTodoWrite(args types.RawArgs) (string, error) {
	var parsed todoWriteArgs
	if err := unmarshalArgs(args, &parsed); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.todo = parsed.Content
	s.mu.Unlock()
	return "TODO list saved", nil
}

type rememberArgs struct {
	Notes string `json:"notes"`
}

func (s *sessionScratch) handleRemember(args types.RawArgs) (string, error) {
	var parsed rememberArgs
	if err := unmarshalArgs(args, &parsed); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.memory.WriteString(parsed.Notes)
	s.memory.WriteString("\n")
	s.mu.Unlock()
	return "remembered", nil
}

type finalOutputArgs struct {
	Summary string `json:"summary"`
}

func handleFinalOutput(args types.RawArgs) (string, error) {
	var parsed finalOutputArgs
	if err := unmarshalArgs(args, &parsed); err != nil {
		return "", err
	}
	return parsed.Summary, nil
}
