package operator

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/provenworks/sopctl/internal/auth"
	"github.com/provenworks/sopctl/internal/cmd/base"
	"github.com/provenworks/sopctl/pkg/models"
)

// seedFile is the YAML shape consumed by the seed command.
type seedFile struct {
	Principals []seedPrincipal `yaml:"principals"`
}

type seedPrincipal struct {
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	DisplayName string   `yaml:"display_name"`
	Roles       []string `yaml:"roles"`

	// Active defaults to true when omitted.
	Active *bool `yaml:"active"`
}

type SeedCommand struct {
	*base.Command

	flagConfig  string
	flagProfile string
	flagFile    string
}

func (c *SeedCommand) Synopsis() string {
	return "Create or update principals from a YAML file"
}

func (c *SeedCommand) Help() string {
	return `Usage: sopctl operator seed -config=<path> -file=<principals.yaml>

  Upserts principals and their role assignments from a YAML file.
  Existing credentials are never overwritten; a password in the file
  only applies when the principal is new or has no stored credential.

  File format:

    principals:
      - username: qa.admin
        password: change-me-now
        display_name: QA Administrator
        roles: [DMS_Admin]` + c.Flags().Help()
}

func (c *SeedCommand) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("operator seed", flag.ContinueOnError))

	f.StringVar(&c.flagConfig, "config", "config.hcl",
		"Path to the HCL configuration file.")
	f.StringVar(&c.flagProfile, "profile", "",
		"Named configuration profile to apply on top of the base blocks.")
	f.StringVar(&c.flagFile, "file", "principals.yaml",
		"Path to the YAML file listing principals.")

	return f
}

func (c *SeedCommand) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	raw, err := os.ReadFile(c.flagFile)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error reading seed file: %v", err))
		return 1
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing seed file: %v", err))
		return 1
	}
	if len(seed.Principals) == 0 {
		c.UI.Warn("seed file lists no principals; nothing to do")
		return 0
	}

	_, gormDB, err := openDB(c.flagConfig, c.flagProfile, c.Log)
	if err != nil {
		c.UI.Error(err.Error())
		return 1
	}

	for _, sp := range seed.Principals {
		for _, role := range sp.Roles {
			if !models.ValidRoleName(role) {
				c.UI.Error(fmt.Sprintf(
					"principal %q names unknown role %q", sp.Username, role))
				return 1
			}
		}

		in := &models.Principal{
			Username:    sp.Username,
			DisplayName: sp.DisplayName,
			Active:      sp.Active == nil || *sp.Active,
		}

		if sp.Password != "" {
			hash, err := auth.HashCredential(sp.Password)
			if err != nil {
				c.UI.Error(fmt.Sprintf(
					"error hashing credential for %q: %v", sp.Username, err))
				return 1
			}
			in.CredentialHash = hash
		}

		roles, err := models.GetRolesByName(gormDB, sp.Roles)
		if err != nil {
			c.UI.Error(fmt.Sprintf(
				"error resolving roles for %q: %v", sp.Username, err))
			return 1
		}
		in.Roles = roles

		if _, err := models.UpsertPrincipal(gormDB, in); err != nil {
			c.UI.Error(fmt.Sprintf(
				"error upserting principal %q: %v", sp.Username, err))
			return 1
		}
		c.UI.Info(fmt.Sprintf("seeded %s (roles: %v)", sp.Username, sp.Roles))
	}

	return 0
}
