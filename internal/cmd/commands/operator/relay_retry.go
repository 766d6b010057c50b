package operator

import (
	"flag"
	"fmt"

	"github.com/provenworks/sopctl/internal/cmd/base"
	"github.com/provenworks/sopctl/internal/relay"
)

type RelayRetryCommand struct {
	*base.Command

	flagConfig  string
	flagProfile string
	flagLimit   int
}

func (c *RelayRetryCommand) Synopsis() string {
	return "Re-queue failed audit outbox rows"
}

func (c *RelayRetryCommand) Help() string {
	return `Usage: sopctl operator relay-retry -config=<path>

  Resets failed audit outbox rows to pending so the relay publishes
  them on its next poll. Use after fixing a broker outage.` +
		c.Flags().Help()
}

func (c *RelayRetryCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(
		flag.NewFlagSet("operator relay-retry", flag.ContinueOnError))

	f.StringVar(&c.flagConfig, "config", "config.hcl",
		"Path to the HCL configuration file.")
	f.StringVar(&c.flagProfile, "profile", "",
		"Named configuration profile to apply on top of the base blocks.")
	f.IntVar(&c.flagLimit, "limit", 100,
		"Maximum number of failed rows to re-queue.")

	return f
}

func (c *RelayRetryCommand) Run(args []string) int {
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

	n, err := relay.RetryFailed(gormDB, c.flagLimit)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error re-queueing outbox rows: %v", err))
		return 1
	}

	c.UI.Info(fmt.Sprintf("re-queued %d outbox rows", n))
	return 0
}
