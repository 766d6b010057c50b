// sopctl-audit-relay publishes pending audit outbox rows to the
// compliance Kafka topic. It runs as a standalone process so the
// control plane keeps serving while brokers are unavailable.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/internal/db"
	"github.com/provenworks/sopctl/internal/relay"
)

// relayConfig is the standalone relay configuration file shape.
type relayConfig struct {
	LogLevel string `hcl:"log_level,optional"`
	LogJSON  bool   `hcl:"log_json,optional"`

	Postgres *postgresConfig `hcl:"postgres,block"`

	Brokers             []string `hcl:"brokers,optional"`
	Topic               string   `hcl:"topic,optional"`
	PollIntervalSeconds int      `hcl:"poll_interval_seconds,optional"`
	BatchSize           int      `hcl:"batch_size,optional"`

	// CleanupAfterHours bounds the published-row retention in the
	// outbox table. Zero disables cleanup.
	CleanupAfterHours int `hcl:"cleanup_after_hours,optional"`
}

type postgresConfig struct {
	Host     string `hcl:"host,optional"`
	Port     int    `hcl:"port,optional"`
	DBName   string `hcl:"dbname,optional"`
	User     string `hcl:"user,optional"`
	Password string `hcl:"password,optional"`
	SSLMode  string `hcl:"sslmode,optional"`
}

// postgresBlock maps the relay's postgres block onto the shared config
// shape NewDB consumes.
func postgresBlock(cfg relayConfig) config.Postgres {
	if cfg.Postgres == nil {
		return config.Postgres{}
	}
	return config.Postgres{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		DBName:   cfg.Postgres.DBName,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
	}
}

func main() {
	configFile := flag.String("config", "", "Path to HCL configuration file")
	flag.Parse()

	if *configFile == "" {
		log.Fatal("missing required -config flag")
	}

	var cfg relayConfig
	if err := hclsimple.DecodeFile(*configFile, nil, &cfg); err != nil {
		log.Fatalf("failed to load configuration from %s: %v", *configFile, err)
	}
	if len(cfg.Brokers) == 0 {
		cfg.Brokers = []string{"localhost:9092"}
	}
	if cfg.Topic == "" {
		cfg.Topic = "sopctl.audit"
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "sopctl-audit-relay",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogJSON,
	})

	gormDB, err := db.NewDB(postgresBlock(cfg), logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	r, err := relay.New(relay.Config{
		DB:           gormDB,
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
		BatchSize:    cfg.BatchSize,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("failed to create relay", "error", err)
		os.Exit(1)
	}
	defer r.Stop()

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.CleanupAfterHours > 0 {
		go runCleanup(ctx, r,
			time.Duration(cfg.CleanupAfterHours)*time.Hour, logger)
	}

	if err := r.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("relay stopped with error", "error", err)
		os.Exit(1)
	}
}

// runCleanup prunes published outbox rows hourly.
func runCleanup(
	ctx context.Context, r *relay.Relay, retain time.Duration,
	logger hclog.Logger,
) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.CleanupOldEntries(retain); err != nil {
				logger.Error("outbox cleanup failed", "error", err)
			}
		}
	}
}
