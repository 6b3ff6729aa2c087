package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/turnengine/internal/turn/types"
)

func newRunCommand() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single turn against the configured provider and print the result",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				return fmt.Errorf("turnengine: run requires a prompt")
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			rt, err := newRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			if sessionID == "" {
				sessionID = newMessageID()
			}
			rt.window.Append(types.Message{
				ID:      newMessageID(),
				Role:    types.RoleUser,
				Kind:    types.KindOrdinary,
				Content: prompt,
			})

			result, err := rt.engine.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("turnengine: run: %w", err)
			}

			if err := rt.sessions.Save(newSessionRecord(sessionID, rt)); err != nil {
				return fmt.Errorf("turnengine: save session: %w", err)
			}
			if err := rt.sessions.SetActive(sessionID, rt.window.PercentUsed()); err != nil {
				return fmt.Errorf("turnengine: mark session active: %w", err)
			}

			fmt.Println(result.FinalText)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session id instead of starting a new one")
	return cmd
}
