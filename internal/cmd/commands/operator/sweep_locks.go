package operator

import (
	"context"
	"flag"
	"fmt"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/cmd/base"
	"github.com/provenworks/sopctl/internal/locks"
)

type SweepLocksCommand struct {
	*base.Command

	flagConfig  string
	flagProfile string
}

func (c *SweepLocksCommand) Synopsis() string {
	return "Delete expired edit locks"
}

func (c *SweepLocksCommand) Help() string {
	return `Usage: sopctl operator sweep-locks -config=<path>

  Deletes expired edit lock rows once and exits. The server runs the
  same sweep periodically; this command exists for manual cleanup when
  the server is down.` + c.Flags().Help()
}

func (c *SweepLocksCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("operator sweep-locks", flag.ContinueOnError))

	f.StringVar(&c.flagConfig, "config", "config.hcl",
		"Path to the HCL configuration file.")
	f.StringVar(&c.flagProfile, "profile", "",
		"Named configuration profile to apply on top of the base blocks.")

	return f
}

func (c *SweepLocksCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, gormDB, err := openDB(c.flagConfig, c.flagProfile, c.Log)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	recorder := audit.NewRecorder(c.Log, false)
	coordinator := locks.NewCoordinator(gormDB, c.Log, recorder, cfg.Locks)

	n, err := coordinator.SweepExpired(context.Background())
	if err != nil {
		c.UI.Error(fmt.Sprintf("error sweeping locks: %v", err))
		return 1
	}

	c.UI.Info(fmt.Sprintf("removed %d expired edit locks", n))
	return 0
}
