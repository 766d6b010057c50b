package server

import (
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/attachments"
	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/auth"
	"github.com/provenworks/sopctl/internal/comments"
	"github.com/provenworks/sopctl/internal/config"
	"github.com/provenworks/sopctl/internal/docs"
	"github.com/provenworks/sopctl/internal/export"
	"github.com/provenworks/sopctl/internal/locks"
	"github.com/provenworks/sopctl/internal/tasks"
	"github.com/provenworks/sopctl/internal/workflow"
)

// Server bundles the configuration and services the API handlers work
// against. It is assembled once by the server command and passed by
// value to every handler constructor.
type Server struct {
	// Config is the loaded configuration.
	Config *config.Config

	// DB is the persistent store.
	DB *gorm.DB

	// Logger is the root logger; handlers narrow it per subsystem.
	Logger hclog.Logger

	// Recorder appends to the audit trail.
	Recorder *audit.Recorder

	// Auth is the session and e-signature gate.
	Auth *auth.Service

	// Workflow is the lifecycle state machine.
	Workflow *workflow.Service

	// Docs serves document and version reads and the save path.
	Docs *docs.Service

	// Locks coordinates edit leases on drafts.
	Locks *locks.Coordinator

	// Comments stores reviewer feedback.
	Comments *comments.Service

	// Tasks derives per-principal pending work.
	Tasks *tasks.Service

	// Attachments stores uploaded files.
	Attachments *attachments.Service

	// Export renders versions to DOCX.
	Export *export.Service
}
