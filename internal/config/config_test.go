package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.hcl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestNewConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
postgres {
  dbname = "sopctl"
  user   = "postgres"
}
`)

	cfg, err := NewConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.BaseURL)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "localhost", cfg.Postgres.Host)
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "disable", cfg.Postgres.SSLMode)
	assert.Equal(t, 60, cfg.Session.TokenTTLMinutes)
	assert.Equal(t, 30, cfg.Locks.DefaultTimeoutMinutes)
	assert.Equal(t, 60, cfg.Locks.MaxTimeoutMinutes)
	assert.Equal(t, "local", cfg.Attachments.Backend)
	assert.Equal(t, "sopctl.audit", cfg.AuditRelay.Topic)
	assert.False(t, cfg.AuditRelay.Enabled)
}

func TestNewConfigProfileOverride(t *testing.T) {
	path := writeConfigFile(t, `
log_level = "info"

postgres {
  host   = "db.internal"
  dbname = "sopctl"
  user   = "postgres"
}

profile "dev" {
  log_level = "debug"

  postgres {
    dbname = "sopctl_dev"
    user   = "postgres"
  }
}
`)

	cfg, err := NewConfig(path, "dev")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sopctl_dev", cfg.Postgres.DBName)
	// Profile blocks replace the base block wholesale.
	assert.Equal(t, "localhost", cfg.Postgres.Host)
}

func TestNewConfigUnknownProfile(t *testing.T) {
	path := writeConfigFile(t, `
postgres {
  dbname = "sopctl"
  user   = "postgres"
}
`)

	_, err := NewConfig(path, "staging")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile not found")
}

func TestNewConfigEnvOverrides(t *testing.T) {
	t.Setenv("SOPCTL_POSTGRES_PASSWORD", "hunter2")
	t.Setenv("SOPCTL_SESSION_SIGNING_KEY", "supersecret")

	path := writeConfigFile(t, `
postgres {
  dbname   = "sopctl"
  user     = "postgres"
  password = "from-file"
}
`)

	cfg, err := NewConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, "hunter2", cfg.Postgres.Password)
	assert.Equal(t, "supersecret", cfg.Session.SigningKey)
}

func TestNewConfigValidation(t *testing.T) {
	cases := []struct {
		name     string
		contents string
		wantErr  string
	}{
		{
			name: "bad log level",
			contents: `
log_level = "noisy"
postgres {
  dbname = "sopctl"
  user   = "postgres"
}
`,
			wantErr: "invalid configuration",
		},
		{
			name: "s3 backend without bucket",
			contents: `
postgres {
  dbname = "sopctl"
  user   = "postgres"
}
attachments {
  backend = "s3"
}
`,
			wantErr: "requires a bucket",
		},
		{
			name: "relay enabled without brokers",
			contents: `
postgres {
  dbname = "sopctl"
  user   = "postgres"
}
audit_relay {
  enabled = true
}
`,
			wantErr: "at least one broker",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.contents)
			_, err := NewConfig(path, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestNewConfigMissingFile(t *testing.T) {
	_, err := NewConfig(filepath.Join(t.TempDir(), "missing.hcl"), "")
	require.Error(t, err)
}
