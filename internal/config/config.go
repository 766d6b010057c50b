// Package config loads the HCL configuration shared by the server and
// operator commands. A config file may define named profile blocks whose
// settings shallowly override the base configuration; secrets may also
// be supplied through SOPCTL_* environment variables so they stay out of
// checked-in files.
package config

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the root configuration.
type Config struct {
	// BaseURL is the externally-reachable URL of this server.
	BaseURL string `hcl:"base_url,optional"`

	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `hcl:"log_level,optional"`

	// LogJSON switches log output to JSON lines.
	LogJSON bool `hcl:"log_json,optional"`

	Postgres    *Postgres    `hcl:"postgres,block"`
	Session     *Session     `hcl:"session,block"`
	Locks       *Locks       `hcl:"locks,block"`
	Attachments *Attachments `hcl:"attachments,block"`
	Export      *Export      `hcl:"export,block"`
	AuditRelay  *AuditRelay  `hcl:"audit_relay,block"`

	Profiles []*Profile `hcl:"profile,block"`
}

// Profile is a named override block selected with -profile.
type Profile struct {
	Name string `hcl:"name,label"`

	BaseURL  string `hcl:"base_url,optional"`
	LogLevel string `hcl:"log_level,optional"`
	LogJSON  *bool  `hcl:"log_json,optional"`

	Postgres    *Postgres    `hcl:"postgres,block"`
	Session     *Session     `hcl:"session,block"`
	Locks       *Locks       `hcl:"locks,block"`
	Attachments *Attachments `hcl:"attachments,block"`
	Export      *Export      `hcl:"export,block"`
	AuditRelay  *AuditRelay  `hcl:"audit_relay,block"`
}

// Postgres configures the persistent store connection.
type Postgres struct {
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	DBName   string `hcl:"dbname,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	SSLMode  string `hcl:"sslmode,optional"`
}

// Session configures bearer tokens and the single-session policy.
type Session struct {
	// TokenTTLMinutes is the bearer token lifetime. Default 60.
	TokenTTLMinutes int `hcl:"token_ttl_minutes,optional"`

	// SigningKey is the HMAC key for bearer tokens. Required to serve.
	SigningKey string `hcl:"signing_key,optional"`
}

// Locks configures edit-lock leases.
type Locks struct {
	// DefaultTimeoutMinutes is the lease length when the caller does not
	// request one. Default 30.
	DefaultTimeoutMinutes int `hcl:"default_timeout_minutes,optional"`

	// MaxTimeoutMinutes caps requested lease lengths. Default 60.
	MaxTimeoutMinutes int `hcl:"max_timeout_minutes,optional"`

	// SweepIntervalMinutes is the cadence of the expired-lock sweep.
	// Zero disables the sweep; correctness does not depend on it.
	SweepIntervalMinutes int `hcl:"sweep_interval_minutes,optional"`
}

// Attachments configures the blob store backing attachment uploads.
type Attachments struct {
	// Backend is "local" or "s3". Default local.
	Backend string `hcl:"backend,optional"`

	// LocalDir is the blob directory for the local backend.
	LocalDir string `hcl:"local_dir,optional"`

	S3 *AttachmentsS3 `hcl:"s3,block"`
}

// AttachmentsS3 configures the S3 backend.
type AttachmentsS3 struct {
	Bucket    string `hcl:"bucket,optional"`
	Region    string `hcl:"region,optional"`
	Prefix    string `hcl:"prefix,optional"`
	Endpoint  string `hcl:"endpoint,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
}

// Export configures the external DOCX renderer.
type Export struct {
	// RendererURL is the HTML-to-DOCX rendering endpoint. Empty disables
	// export.
	RendererURL string `hcl:"renderer_url,optional"`

	// TimeoutSeconds bounds a render call. Default 30.
	TimeoutSeconds int `hcl:"timeout_seconds,optional"`
}

// AuditRelay configures the outbox relay that streams committed audit
// entries to the compliance topic.
type AuditRelay struct {
	Enabled             bool     `hcl:"enabled,optional"`
	Brokers             []string `hcl:"brokers,optional"`
	Topic               string   `hcl:"topic,optional"`
	PollIntervalSeconds int      `hcl:"poll_interval_seconds,optional"`
	BatchSize           int      `hcl:"batch_size,optional"`
}

// NewConfig parses the file at path, applies the named profile (empty
// means none), environment overrides, and defaults, then validates.
func NewConfig(path, profile string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("error decoding configuration file: %w", err)
	}

	if profile != "" {
		p := cfg.findProfile(profile)
		if p == nil {
			return nil, fmt.Errorf("profile not found in configuration: %s", profile)
		}
		cfg.applyProfile(p)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) findProfile(name string) *Profile {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (c *Config) applyProfile(p *Profile) {
	if p.BaseURL != "" {
		c.BaseURL = p.BaseURL
	}
	if p.LogLevel != "" {
		c.LogLevel = p.LogLevel
	}
	if p.LogJSON != nil {
		c.LogJSON = *p.LogJSON
	}
	if p.Postgres != nil {
		c.Postgres = p.Postgres
	}
	if p.Session != nil {
		c.Session = p.Session
	}
	if p.Locks != nil {
		c.Locks = p.Locks
	}
	if p.Attachments != nil {
		c.Attachments = p.Attachments
	}
	if p.Export != nil {
		c.Export = p.Export
	}
	if p.AuditRelay != nil {
		c.AuditRelay = p.AuditRelay
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SOPCTL_POSTGRES_PASSWORD"); v != "" && c.Postgres != nil {
		c.Postgres.Password = v
	}
	if v := os.Getenv("SOPCTL_SESSION_SIGNING_KEY"); v != "" {
		if c.Session == nil {
			c.Session = &Session{}
		}
		c.Session.SigningKey = v
	}
	if v := os.Getenv("SOPCTL_S3_ACCESS_KEY"); v != "" &&
		c.Attachments != nil && c.Attachments.S3 != nil {
		c.Attachments.S3.AccessKey = v
	}
	if v := os.Getenv("SOPCTL_S3_SECRET_KEY"); v != "" &&
		c.Attachments != nil && c.Attachments.S3 != nil {
		c.Attachments.S3.SecretKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:8000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Postgres != nil {
		if c.Postgres.Host == "" {
			c.Postgres.Host = "localhost"
		}
		if c.Postgres.Port == 0 {
			c.Postgres.Port = 5432
		}
		if c.Postgres.SSLMode == "" {
			c.Postgres.SSLMode = "disable"
		}
	}

	if c.Session == nil {
		c.Session = &Session{}
	}
	if c.Session.TokenTTLMinutes == 0 {
		c.Session.TokenTTLMinutes = 60
	}

	if c.Locks == nil {
		c.Locks = &Locks{}
	}
	if c.Locks.DefaultTimeoutMinutes == 0 {
		c.Locks.DefaultTimeoutMinutes = 30
	}
	if c.Locks.MaxTimeoutMinutes == 0 {
		c.Locks.MaxTimeoutMinutes = 60
	}

	if c.Attachments == nil {
		c.Attachments = &Attachments{}
	}
	if c.Attachments.Backend == "" {
		c.Attachments.Backend = "local"
	}
	if c.Attachments.LocalDir == "" {
		c.Attachments.LocalDir = ".sopctl/attachments"
	}

	if c.Export == nil {
		c.Export = &Export{}
	}
	if c.Export.TimeoutSeconds == 0 {
		c.Export.TimeoutSeconds = 30
	}

	if c.AuditRelay == nil {
		c.AuditRelay = &AuditRelay{}
	}
	if c.AuditRelay.Topic == "" {
		c.AuditRelay.Topic = "sopctl.audit"
	}
	if c.AuditRelay.PollIntervalSeconds == 0 {
		c.AuditRelay.PollIntervalSeconds = 1
	}
	if c.AuditRelay.BatchSize == 0 {
		c.AuditRelay.BatchSize = 100
	}
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.LogLevel,
			validation.In("trace", "debug", "info", "warn", "error")),
	); err != nil {
		return err
	}

	if c.Attachments.Backend != "local" && c.Attachments.Backend != "s3" {
		return fmt.Errorf("attachments backend must be local or s3, got %q",
			c.Attachments.Backend)
	}
	if c.Attachments.Backend == "s3" &&
		(c.Attachments.S3 == nil || c.Attachments.S3.Bucket == "") {
		return fmt.Errorf("attachments s3 backend requires a bucket")
	}

	if c.AuditRelay.Enabled && len(c.AuditRelay.Brokers) == 0 {
		return fmt.Errorf("audit_relay requires at least one broker when enabled")
	}

	return nil
}
