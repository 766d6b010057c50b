// Package workflow is the lifecycle state machine for document
// versions. Legal moves live in one explicit transition table; every
// transition verifies capability and e-signature up front, then applies
// its stamps and audit entry inside a single transaction.
package workflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/auth"
	"github.com/provenworks/sopctl/internal/rbac"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// Service executes lifecycle transitions and version creation.
type Service struct {
	db       *gorm.DB
	log      hclog.Logger
	recorder *audit.Recorder
	auth     *auth.Service

	// now is swappable in tests.
	now func() time.Time
}

// NewService returns a workflow service.
func NewService(
	db *gorm.DB, log hclog.Logger, recorder *audit.Recorder, authSvc *auth.Service,
) *Service {
	return &Service{
		db:       db,
		log:      log.Named("workflow"),
		recorder: recorder,
		auth:     authSvc,
		now:      time.Now,
	}
}

// TransitionInput carries the shared arguments of every lifecycle
// transition. Password is the re-entered credential for the
// e-signature.
type TransitionInput struct {
	VersionID uint
	Password  string

	// Comment is optional on most transitions and required on Request
	// Changes and Reject.
	Comment string

	IPAddress string
	UserAgent string
}

// transitionKey addresses one row of the transition table.
type transitionKey struct {
	from models.VersionStatus
	to   models.VersionStatus
}

// transitionRule is one legal move: who may perform it, whether the
// comment is mandatory, and which stamps it writes.
type transitionRule struct {
	// name doubles as the e-signature meaning and audit description.
	name string

	audit          models.AuditAction
	capability     func(*models.Principal, *models.Document) bool
	capabilityName string

	commentRequired bool

	// recordComment stores the transition comment as a Comment row so it
	// reaches the author through the normal comment thread.
	recordComment bool

	// stamp mutates the version's workflow timestamps and returns the
	// column updates to persist alongside the status change.
	stamp func(v *models.DocumentVersion, p *models.Principal, now time.Time) map[string]interface{}
}

var transitionTable = map[transitionKey]transitionRule{
	{models.StatusDraft, models.StatusUnderReview}: {
		name:           "Submit",
		audit:          models.ActionVersionSubmitted,
		capability:     rbac.CanEditDocument,
		capabilityName: "submit_version",
		stamp: func(v *models.DocumentVersion, p *models.Principal, now time.Time) map[string]interface{} {
			v.SubmittedAt = &now
			v.SubmittedByID = &p.ID
			return map[string]interface{}{
				"submitted_at":    now,
				"submitted_by_id": p.ID,
			}
		},
	},
	{models.StatusUnderReview, models.StatusPendingApproval}: {
		name:           "Approve Review",
		audit:          models.ActionVersionReviewApproved,
		capability:     reviewerCapability,
		capabilityName: "review_version",
		stamp: func(v *models.DocumentVersion, p *models.Principal, now time.Time) map[string]interface{} {
			v.ReviewedAt = &now
			v.ReviewedByID = &p.ID
			return map[string]interface{}{
				"reviewed_at":    now,
				"reviewed_by_id": p.ID,
			}
		},
	},
	{models.StatusUnderReview, models.StatusDraft}: {
		name:            "Request Changes",
		audit:           models.ActionVersionChangesRequested,
		capability:      reviewerCapability,
		capabilityName:  "review_version",
		commentRequired: true,
		recordComment:   true,
		stamp:           noStamps,
	},
	{models.StatusPendingApproval, models.StatusApproved}: {
		name:           "Approve",
		audit:          models.ActionVersionApproved,
		capability:     approverCapability,
		capabilityName: "approve_version",
		stamp: func(v *models.DocumentVersion, p *models.Principal, now time.Time) map[string]interface{} {
			v.ApprovedAt = &now
			v.ApprovedByID = &p.ID
			return map[string]interface{}{
				"approved_at":    now,
				"approved_by_id": p.ID,
			}
		},
	},
	{models.StatusPendingApproval, models.StatusDraft}: {
		name:            "Reject",
		audit:           models.ActionVersionRejected,
		capability:      approverCapability,
		capabilityName:  "approve_version",
		commentRequired: true,
		recordComment:   true,
		stamp: func(v *models.DocumentVersion, p *models.Principal, now time.Time) map[string]interface{} {
			v.RejectedAt = &now
			v.RejectedByID = &p.ID
			return map[string]interface{}{
				"rejected_at":    now,
				"rejected_by_id": p.ID,
			}
		},
	},
	{models.StatusEffective, models.StatusArchived}: archiveRule,
	{models.StatusObsolete, models.StatusArchived}:  archiveRule,
}

var archiveRule = transitionRule{
	name:           "Archive",
	audit:          models.ActionVersionArchived,
	capability:     adminCapability(rbac.CanArchive),
	capabilityName: "archive_version",
	stamp: func(v *models.DocumentVersion, p *models.Principal, now time.Time) map[string]interface{} {
		v.ArchivedAt = &now
		v.ArchivedByID = &p.ID
		return map[string]interface{}{
			"archived_at":    now,
			"archived_by_id": p.ID,
		}
	},
}

func reviewerCapability(p *models.Principal, _ *models.Document) bool {
	return rbac.CanReview(p)
}

func approverCapability(p *models.Principal, _ *models.Document) bool {
	return rbac.CanApprove(p)
}

func adminCapability(f func(*models.Principal) bool) func(*models.Principal, *models.Document) bool {
	return func(p *models.Principal, _ *models.Document) bool { return f(p) }
}

func noStamps(_ *models.DocumentVersion, _ *models.Principal, _ time.Time) map[string]interface{} {
	return map[string]interface{}{}
}

// Submit moves a Draft to Under Review.
func (s *Service) Submit(p *models.Principal, in TransitionInput) (*models.DocumentVersion, error) {
	return s.transition(p, in, "submit", models.StatusUnderReview,
		models.StatusDraft)
}

// ApproveReview moves Under Review to Pending Approval.
func (s *Service) ApproveReview(p *models.Principal, in TransitionInput) (*models.DocumentVersion, error) {
	return s.transition(p, in, "approve review", models.StatusPendingApproval,
		models.StatusUnderReview)
}

// RequestChanges sends Under Review back to Draft. The comment is
// mandatory; it is what the author acts on.
func (s *Service) RequestChanges(p *models.Principal, in TransitionInput) (*models.DocumentVersion, error) {
	return s.transition(p, in, "request changes", models.StatusDraft,
		models.StatusUnderReview)
}

// Approve moves Pending Approval to Approved.
func (s *Service) Approve(p *models.Principal, in TransitionInput) (*models.DocumentVersion, error) {
	return s.transition(p, in, "approve", models.StatusApproved,
		models.StatusPendingApproval)
}

// Reject sends Pending Approval back to Draft with a mandatory reason.
// The same draft row continues; no version number or string changes.
func (s *Service) Reject(p *models.Principal, in TransitionInput) (*models.DocumentVersion, error) {
	return s.transition(p, in, "reject", models.StatusDraft,
		models.StatusPendingApproval)
}

// Archive moves an Effective or Obsolete version to Archived.
func (s *Service) Archive(p *models.Principal, in TransitionInput) (*models.DocumentVersion, error) {
	return s.transition(p, in, "archive", models.StatusArchived,
		models.StatusEffective, models.StatusObsolete)
}

// transition is the shared engine for table-driven moves. allowedFrom
// lists the statuses the named operation may start from; the version's
// current status picks the table row.
func (s *Service) transition(
	p *models.Principal,
	in TransitionInput,
	opName string,
	to models.VersionStatus,
	allowedFrom ...models.VersionStatus,
) (*models.DocumentVersion, error) {
	version, doc, err := s.loadVersionAndDocument(in.VersionID)
	if err != nil {
		return nil, err
	}

	from, ok := matchFrom(version.Status, allowedFrom)
	if !ok {
		return nil, errcode.Newf(errcode.IllegalTransition,
			"cannot %s a version in status %q", opName, version.Status)
	}
	rule := transitionTable[transitionKey{from, to}]

	if err := rbac.Require(
		rule.capability(p, doc), rule.capabilityName); err != nil {
		return nil, err
	}

	comment := strings.TrimSpace(in.Comment)
	if rule.commentRequired && comment == "" {
		return nil, errcode.Newf(errcode.ValidationError,
			"a comment is required to %s", opName)
	}

	// The e-signature gate runs before the transaction opens; a mismatch
	// aborts with no mutation beyond its own audit entry.
	if err := s.auth.VerifyESignature(
		p, in.Password, rule.name, in.IPAddress, in.UserAgent); err != nil {
		return nil, err
	}

	var result *models.DocumentVersion
	err = s.db.Transaction(func(tx *gorm.DB) error {
		now := s.now()

		v := &models.DocumentVersion{ID: in.VersionID}
		if err := v.GetForUpdate(tx); err != nil {
			return fmt.Errorf("error locking version: %w", err)
		}
		// Re-check under the row lock; a concurrent transition may have
		// moved the version since the unlocked read.
		if v.Status != from {
			return errcode.Newf(errcode.IllegalTransition,
				"cannot %s a version in status %q", opName, v.Status)
		}

		if rule.recordComment && comment != "" {
			c := &models.Comment{
				VersionID: v.ID,
				AuthorID:  p.ID,
				Body:      comment,
			}
			if err := c.Create(tx); err != nil {
				return fmt.Errorf("error recording transition comment: %w", err)
			}
		}

		updates := rule.stamp(v, p, now)
		updates["status"] = to
		v.Status = to
		if err := tx.Model(v).Updates(updates).Error; err != nil {
			return fmt.Errorf("error updating version: %w", err)
		}

		details := s.signatureDetails(rule.name, doc, v)
		details["from"] = string(from)
		details["to"] = string(to)
		if comment != "" {
			details["comment"] = comment
		}
		if err := s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      rule.audit,
			EntityKind:  models.EntityVersion,
			EntityID:    v.ID,
			Description: fmt.Sprintf("%s %s %s (E-Signature: %s)",
				rule.name, doc.DocumentNumber, v.VersionString, p.Username),
			Details:     details,
			IPAddress:   in.IPAddress,
			UserAgent:   in.UserAgent,
		}); err != nil {
			return err
		}

		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("version transition",
		"op", opName,
		"document", doc.DocumentNumber,
		"version", result.VersionString,
		"from", from,
		"to", to,
		"principal", p.Username,
	)
	return result, nil
}

func matchFrom(
	current models.VersionStatus, allowed []models.VersionStatus,
) (models.VersionStatus, bool) {
	for _, from := range allowed {
		if current == from {
			return from, true
		}
	}
	return "", false
}

// loadVersionAndDocument resolves a version and its document, mapping
// missing rows to NOT_FOUND.
func (s *Service) loadVersionAndDocument(
	versionID uint,
) (*models.DocumentVersion, *models.Document, error) {
	version, err := models.GetVersionByID(s.db, versionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errcode.New(errcode.NotFound, "version not found")
		}
		return nil, nil, fmt.Errorf("error loading version: %w", err)
	}

	doc := &models.Document{ID: version.DocumentID}
	if err := doc.Get(s.db); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, errcode.New(errcode.NotFound, "document not found")
		}
		return nil, nil, fmt.Errorf("error loading document: %w", err)
	}

	return version, doc, nil
}

// signatureDetails is the common detail map for e-signed transitions;
// the e-signature report decodes these keys.
func (s *Service) signatureDetails(
	meaning string, doc *models.Document, v *models.DocumentVersion,
) map[string]interface{} {
	return map[string]interface{}{
		"esignature":      true,
		"meaning":         meaning,
		"document_number": doc.DocumentNumber,
		"version_number":  v.VersionString,
	}
}
