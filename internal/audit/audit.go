// Package audit writes and reads the append-only audit trail. Every
// state-changing operation records an entry in the same database
// transaction as the mutation itself, so a committed change always has
// its trail entry and a rolled-back change leaves none.
package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/pkg/models"
)

// Recorder appends audit entries. When outbox is enabled each entry
// also gets a pending outbox row picked up by the relay.
type Recorder struct {
	log    hclog.Logger
	outbox bool
}

// NewRecorder returns a Recorder. outbox controls whether entries are
// queued for the audit relay.
func NewRecorder(log hclog.Logger, outbox bool) *Recorder {
	return &Recorder{
		log:    log.Named("audit"),
		outbox: outbox,
	}
}

// Event describes one auditable action.
type Event struct {
	// Principal who performed the action. Nil for anonymous events such
	// as failed logins for unknown usernames.
	Principal *models.Principal

	// Username is used when Principal is nil (for example a failed login
	// attempt against an unknown account).
	Username string

	Action      models.AuditAction
	EntityKind  string
	EntityID    uint
	Description string

	// Details carries structured context. The reserved key "esignature"
	// marks entries produced under an electronic signature.
	Details map[string]interface{}

	IPAddress string
	UserAgent string
}

// Record appends the event to the trail inside tx. Callers performing a
// mutation must pass their open transaction so the entry commits or
// rolls back with it.
func (r *Recorder) Record(tx *gorm.DB, ev Event) error {
	entry := models.AuditEntry{
		Action:      ev.Action,
		EntityKind:  ev.EntityKind,
		EntityID:    ev.EntityID,
		Description: ev.Description,
		IPAddress:   ev.IPAddress,
		UserAgent:   ev.UserAgent,
	}

	if ev.Principal != nil {
		entry.PrincipalID = &ev.Principal.ID
		entry.PrincipalUsername = ev.Principal.Username
	} else {
		entry.PrincipalUsername = ev.Username
	}
	if entry.PrincipalUsername == "" {
		entry.PrincipalUsername = "unknown"
	}

	if len(ev.Details) > 0 {
		entry.Details = models.JSON(ev.Details)
		if signed, ok := ev.Details["esignature"].(bool); ok && signed {
			entry.ESigned = true
		}
	}

	if err := entry.Create(tx); err != nil {
		return fmt.Errorf("error creating audit entry: %w", err)
	}

	if r.outbox {
		ob := models.AuditOutbox{AuditEntryID: entry.ID}
		if err := ob.Create(tx); err != nil {
			return fmt.Errorf("error creating audit outbox row: %w", err)
		}
	}

	r.log.Debug("audit entry recorded",
		"action", entry.Action,
		"principal", entry.PrincipalUsername,
		"entity_kind", entry.EntityKind,
		"entity_id", entry.EntityID,
	)

	return nil
}

// QueryParams are the caller-facing audit query filters. Time bounds
// accept anything dateparse understands (RFC 3339, dates, epoch).
type QueryParams struct {
	PrincipalID uint
	Username    string
	Action      string
	EntityKind  string
	EntityID    uint
	ESignedOnly bool
	From        string
	Until       string
	Offset      int
	Limit       int
}

// Query lists audit entries newest first plus the total match count.
func Query(db *gorm.DB, params QueryParams) ([]models.AuditEntry, int64, error) {
	filter := models.AuditFilter{
		PrincipalID: params.PrincipalID,
		Username:    params.Username,
		Action:      models.AuditAction(params.Action),
		EntityKind:  params.EntityKind,
		EntityID:    params.EntityID,
		ESignedOnly: params.ESignedOnly,
		Offset:      params.Offset,
		Limit:       params.Limit,
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	var err error
	if filter.From, err = parseTimeBound(params.From); err != nil {
		return nil, 0, fmt.Errorf("invalid from time: %w", err)
	}
	if filter.Until, err = parseTimeBound(params.Until); err != nil {
		return nil, 0, fmt.Errorf("invalid until time: %w", err)
	}

	return models.FindAuditEntries(db, filter)
}

func parseTimeBound(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
