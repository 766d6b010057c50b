package version

import (
	"github.com/provenworks/sopctl/internal/cmd/base"
	"github.com/provenworks/sopctl/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return `Usage: sopctl version

  Prints the version of this sopctl build.`
}

func (c *Command) Run(args []string) int {
	c.UI.Output(version.GetVersion())
	return 0
}
