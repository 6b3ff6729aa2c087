package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report which session, if any, would be resumed next",
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

			cont, err := rt.sessions.ResolveActive()
			if err != nil {
				return err
			}
			if cont == nil {
				fmt.Println("no active session")
				return nil
			}
			fmt.Printf("active session %s (context %d%%, restorable without rebuild: %v)\n",
				cont.SessionID, cont.ContextPercent, cont.CanRestoreFullContext())
			return nil
		},
	}
}
