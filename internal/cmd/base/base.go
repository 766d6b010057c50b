// Package base carries the pieces shared by every CLI command: the
// logger, the terminal UI, and a flag set wrapper that renders help.
package base

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

// Command is embedded in all CLI commands.
type Command struct {
	// Log is the logger for the command.
	Log hclog.Logger

	// UI is the terminal UI for human-readable output.
	UI cli.Ui
}

// NewCommand returns a Command with the given logger and UI.
func NewCommand(log hclog.Logger, ui cli.Ui) *Command {
	return &Command{
		Log: log,
		UI:  ui,
	}
}
