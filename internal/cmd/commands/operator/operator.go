// Package operator groups the administrative subcommands: schema
// migration, principal seeding, lock sweeping, and outbox recovery.
package operator

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/cmd/base"
	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/internal/db"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Perform operator-specific tasks"
}

func (c *Command) Help() string {
	return `Usage: sopctl operator <subcommand> [options] [args]

  This command groups subcommands for operators running sopctl.`
}

func (c *Command) Run(args []string) int {
	return cli.RunResultHelp
}

// openDB loads the configuration and connects to its database. Shared
// by every operator subcommand.
func openDB(
	configPath, profile string, log hclog.Logger,
) (*config.Config, *gorm.DB, error) {
	cfg, err := config.NewConfig(configPath, profile)
	if err != nil {
		return nil, nil, fmt.Errorf("error loading configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	gormDB, err := db.NewDB(*cfg.Postgres, log)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return cfg, gormDB, nil
}
