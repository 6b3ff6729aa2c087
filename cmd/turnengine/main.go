// Command turnengine is the CLI front end for the agent turn engine: it
// loads a runconfig.Config, wires a provider, tool registry, and context
// window together into an engine.Engine, and exposes that through
// cobra subcommands ("run" for a single turn, "repl" for the slash-command
// shell the core package itself stays silent on).
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "turnengine",
		Short:   "Run and inspect agent turns",
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}
	root.PersistentFlags().StringVar(&configPath, "config", "turnengine.yaml", "path to the runtime config file")

	root.AddCommand(newRunCommand())
	root.AddCommand(newREPLCommand())
	root.AddCommand(newStatusCommand())

	if err := root.Execute(); err != nil {
		slog.Error("turnengine: fatal", "error", err)
		os.Exit(1)
	}
}
