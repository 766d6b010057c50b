package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/provenworks/sopctl/internal/cmd/base"
	"github.com/provenworks/sopctl/internal/cmd/commands/operator"
	"github.com/provenworks/sopctl/internal/cmd/commands/server"
	"github.com/provenworks/sopctl/internal/cmd/commands/version"
)

// Commands is the mapping of all available CLI commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	baseCommand := base.NewCommand(log, ui)

	Commands = map[string]cli.CommandFactory{
		"server": func() (cli.Command, error) {
			return &server.Command{Command: baseCommand}, nil
		},
		"operator": func() (cli.Command, error) {
			return &operator.Command{Command: baseCommand}, nil
		},
		"operator migrate": func() (cli.Command, error) {
			return &operator.MigrateCommand{Command: baseCommand}, nil
		},
		"operator seed": func() (cli.Command, error) {
			return &operator.SeedCommand{Command: baseCommand}, nil
		},
		"operator sweep-locks": func() (cli.Command, error) {
			return &operator.SweepLocksCommand{Command: baseCommand}, nil
		},
		"operator relay-retry": func() (cli.Command, error) {
			return &operator.RelayRetryCommand{Command: baseCommand}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: baseCommand}, nil
		},
	}
}
