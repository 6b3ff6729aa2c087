package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	turncontext "github.com/haasonsaas/turnengine/internal/turn/context"
	"github.com/haasonsaas/turnengine/internal/turn/types"
)

func newREPLCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive shell: slash commands manage context state, anything else starts a turn",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			sessionID := newMessageID()
			scanner := bufio.NewScanner(os.Stdin)
			fmt.Println("turnengine repl — /help for commands, Ctrl-D to exit")
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					return nil
				}
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if strings.HasPrefix(line, "/") {
					if err := rt.runSlashCommand(cmd, line, &sessionID); err != nil {
						fmt.Fprintln(os.Stderr, err)
					}
					continue
				}

				rt.window.Append(types.Message{
					ID:      newMessageID(),
					Role:    types.RoleUser,
					Kind:    types.KindOrdinary,
					Content: line,
				})
				result, err := rt.engine.Run(cmd.Context())
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					continue
				}
				fmt.Println(result.FinalText)
			}
		},
	}
}

// runSlashCommand implements the REPL surface the core spec deliberately
// stays silent on: everything here is a thin collaborator over the
// window/session/fragment APIs the core already exposes.
func (rt *runtime) runSlashCommand(cmd *cobra.Command, line string, sessionID *string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/help":
		fmt.Println("/compact /thinnify /skinnify /clear /fragments /rehydrate <id> /resume /stats /dump /run <file>")

	case "/thinnify":
		rt.window.Thin(4)
		fmt.Println("thinned tool output, keeping the last 4 messages intact")

	case "/skinnify":
		rt.window.Thin(1)
		fmt.Println("aggressively thinned tool output, keeping only the last message intact")

	case "/compact":
		splitAt := len(rt.window.Messages) - 4
		if splitAt <= 0 {
			fmt.Println("not enough history to compact")
			return nil
		}
		err := rt.window.Compact(splitAt, func(prefix []types.Message) (string, error) {
			chunks, err := rt.engine.Provider.Stream(cmd.Context(), append(prefix, types.Message{
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
		})
		if err != nil {
			return err
		}
		fmt.Println("compacted")

	case "/clear":
		rt.window.Messages = nil
		fmt.Println("cleared window")

	case "/fragments":
		ids, err := rt.fragments.ListFragments()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}

	case "/rehydrate":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /rehydrate <fragment-id> [depth]")
		}
		depth := 1
		if len(fields) >= 3 {
			fmt.Sscanf(fields[2], "%d", &depth)
		}
		messages, err := rt.fragments.Rehydrate(fields[1], depth)
		if err != nil {
			return err
		}
		rt.window.Messages = append(messages, rt.window.Messages...)
		fmt.Printf("rehydrated %d messages from %s\n", len(messages), fields[1])

	case "/resume":
		cont, err := rt.sessions.ResolveActive()
		if err != nil {
			return err
		}
		if cont == nil {
			fmt.Println("no active session to resume")
			return nil
		}
		record, err := rt.sessions.Load(cont.SessionID)
		if err != nil {
			return err
		}
		rt.window = turncontext.New(record.Model)
		rt.window.Messages = record.Messages
		rt.engine.Window = rt.window
		*sessionID = record.ID
		fmt.Printf("resumed session %s (%d messages)\n", record.ID, len(record.Messages))

	case "/stats":
		fmt.Printf("messages=%d tokens≈%d (%d%% of %d) action=%v\n",
			len(rt.window.Messages), rt.window.EstimatedTokens(), rt.window.PercentUsed(),
			rt.window.LimitTokens, rt.window.Check())

	case "/dump":
		data, err := json.MarshalIndent(rt.window.Messages, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))

	case "/run":
		if len(fields) < 2 {
			return fmt.Errorf("usage: /run <file>")
		}
		content, err := os.ReadFile(fields[1])
		if err != nil {
			return err
		}
		rt.window.Append(types.Message{
			ID:      newMessageID(),
			Role:    types.RoleUser,
			Kind:    types.KindOrdinary,
			Content: string(content),
		})
		result, err := rt.engine.Run(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(result.FinalText)

	default:
		return fmt.Errorf("unknown command: %s (try /help)", fields[0])
	}
	return nil
}
