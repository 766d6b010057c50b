package operator

import (
	"flag"
	"fmt"

	"github.com/provenworks/sopctl/internal/cmd/base"
	"github.com/provenworks/sopctl/internal/migrate"
)

type MigrateCommand struct {
	*base.Command

	flagConfig  string
	flagProfile string
}

func (c *MigrateCommand) Synopsis() string {
	return "Apply pending schema migrations"
}

func (c *MigrateCommand) Help() string {
	return `Usage: sopctl operator migrate -config=<path>

  Applies all pending schema migrations to the configured database and
  prints the resulting schema version.` + c.Flags().Help()
}

func (c *MigrateCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("operator migrate", flag.ContinueOnError))

	f.StringVar(&c.flagConfig, "config", "config.hcl",
		"Path to the HCL configuration file.")
	f.StringVar(&c.flagProfile, "profile", "",
		"Named configuration profile to apply on top of the base blocks.")

	return f
}

func (c *MigrateCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	_, gormDB, err := openDB(c.flagConfig, c.flagProfile, c.Log)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		c.UI.Error(fmt.Sprintf("error getting database handle: %v", err))
		return 1
	}

	if err := migrate.RunMigrations(sqlDB); err != nil {
		c.UI.Error(fmt.Sprintf("error applying migrations: %v", err))
		return 1
	}

	version, dirty, err := migrate.Version(sqlDB)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error reading schema version: %v", err))
		return 1
	}
	if dirty {
		c.UI.Warn(fmt.Sprintf(
			"schema version %d is dirty; manual repair needed", version))
		return 1
	}

	c.UI.Info(fmt.Sprintf("schema is current at version %d", version))
	return 0
}
