// Package server implements the command that assembles the services
// and runs the HTTP control plane.
package server

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/provenworks/sopctl/internal/api"
	"github.com/provenworks/sopctl/internal/attachments"
	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/auth"
	"github.com/provenworks/sopctl/internal/cmd/base"
	"github.com/provenworks/sopctl/internal/comments"
	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/internal/db"
	"github.com/provenworks/sopctl/internal/docs"
	"github.com/provenworks/sopctl/internal/export"
	"github.com/provenworks/sopctl/internal/locks"
	"github.com/provenworks/sopctl/internal/migrate"
	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/internal/tasks"
	"github.com/provenworks/sopctl/internal/version"
	"github.com/provenworks/sopctl/internal/workflow"
	"github.com/provenworks/sopctl/pkg/blobstore"
)

// shutdownGrace is how long in-flight requests get to finish after a
// stop signal.
const shutdownGrace = 30 * time.Second

type Command struct {
	*base.Command

	flagConfig      string
	flagProfile     string
	flagAddr        string
	flagAutoMigrate bool
}

func (c *Command) Synopsis() string {
	return "Run the SOP control plane server"
}

func (c *Command) Help() string {
	return `Usage: sopctl server -config=<path> [options]

  Starts the document control plane: the HTTP API, the edit lock
  sweeper, and, when enabled in the configuration, audit outbox
  staging for the relay.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("server", flag.ContinueOnError))

	f.StringVar(&c.flagConfig, "config", "config.hcl",
		"Path to the HCL configuration file.")
	f.StringVar(&c.flagProfile, "profile", "",
		"Named configuration profile to apply on top of the base blocks.")
	f.StringVar(&c.flagAddr, "addr", ":8000",
		"Address for the HTTP listener.")
	f.BoolVar(&c.flagAutoMigrate, "auto-migrate", false,
		"Apply pending schema migrations before serving.")

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg, err := config.NewConfig(c.flagConfig, c.flagProfile)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error loading configuration: %v", err))
		return 1
	}
	if err := cfg.Validate(); err != nil {
		c.UI.Error(fmt.Sprintf("invalid configuration: %v", err))
		return 1
	}

	log := hclog.New(&hclog.LoggerOptions{
		Name:       "sopctl",
		Level:      hclog.LevelFromString(cfg.LogLevel),
		JSONFormat: cfg.LogJSON,
	})

	gormDB, err := db.NewDB(*cfg.Postgres, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error connecting to database: %v", err))
		return 1
	}

	if c.flagAutoMigrate {
		sqlDB, err := gormDB.DB()
		if err != nil {
			c.UI.Error(fmt.Sprintf("error getting database handle: %v", err))
			return 1
		}
		if err := migrate.RunMigrations(sqlDB); err != nil {
			c.UI.Error(fmt.Sprintf("error applying migrations: %v", err))
			return 1
		}
		log.Info("schema migrations applied")
	}

	store, err := c.buildBlobStore(cfg, log)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error configuring attachment storage: %v", err))
		return 1
	}

	outbox := cfg.AuditRelay != nil && cfg.AuditRelay.Enabled
	recorder := audit.NewRecorder(log, outbox)

	authSvc, err := auth.NewService(gormDB, log, recorder, cfg.Session)
	if err != nil {
		c.UI.Error(fmt.Sprintf("error configuring authentication: %v", err))
		return 1
	}

	coordinator := locks.NewCoordinator(gormDB, log, recorder, cfg.Locks)
	workflowSvc := workflow.NewService(gormDB, log, recorder, authSvc)
	docsSvc := docs.NewService(gormDB, log, recorder, coordinator)
	commentsSvc := comments.NewService(gormDB, log, recorder)
	tasksSvc := tasks.NewService(gormDB, log)
	attachmentsSvc := attachments.NewService(gormDB, log, recorder, store)
	exportSvc := export.NewService(
		gormDB, log, recorder, renderer(cfg.Export))

	srv := server.Server{
		Config:      cfg,
		DB:          gormDB,
		Logger:      log,
		Recorder:    recorder,
		Auth:        authSvc,
		Workflow:    workflowSvc,
		Docs:        docsSvc,
		Locks:       coordinator,
		Comments:    commentsSvc,
		Tasks:       tasksSvc,
		Attachments: attachmentsSvc,
		Export:      exportSvc,
	}

	httpServer := &http.Server{
		Addr:    c.flagAddr,
		Handler: api.NewMux(srv),
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweepInterval := time.Duration(
		cfg.Locks.SweepIntervalMinutes) * time.Minute
	go coordinator.RunSweeper(ctx, sweepInterval)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			"addr", c.flagAddr,
			"version", version.GetVersion(),
			"audit_outbox", outbox,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		c.UI.Error(fmt.Sprintf("server error: %v", err))
		return 1
	case <-ctx.Done():
	}

	log.Info("shutting down", "grace", shutdownGrace)
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		c.UI.Error(fmt.Sprintf("error during shutdown: %v", err))
		return 1
	}

	return 0
}

// buildBlobStore picks the attachment backend from the config block.
func (c *Command) buildBlobStore(
	cfg *config.Config, log hclog.Logger,
) (blobstore.Store, error) {
	a := cfg.Attachments

	switch a.Backend {
	case "s3":
		if a.S3 == nil {
			return nil, fmt.Errorf("s3 backend selected but no s3 block given")
		}
		return blobstore.NewS3(context.Background(), blobstore.S3Config{
			Bucket:    a.S3.Bucket,
			Region:    a.S3.Region,
			Prefix:    a.S3.Prefix,
			Endpoint:  a.S3.Endpoint,
			AccessKey: a.S3.AccessKey,
			SecretKey: a.S3.SecretKey,
		}, log)
	case "local", "":
		return blobstore.NewLocal(a.LocalDir)
	default:
		return nil, fmt.Errorf("unknown attachment backend %q", a.Backend)
	}
}

// renderer builds the export renderer, nil when not configured. A typed
// nil must not leak into the interface value.
func renderer(cfg *config.Export) export.Renderer {
	r := export.NewHTTPRenderer(cfg)
	if r == nil {
		return nil
	}
	return r
}
