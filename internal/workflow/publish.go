package workflow

import (
	"errors"
	"fmt"

	"github.com/araddon/dateparse"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/rbac"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// PublishInput carries the Publish arguments. EffectiveDate accepts any
// dateparse-readable form; empty means now.
type PublishInput struct {
	VersionID     uint
	Password      string
	EffectiveDate string
	IPAddress     string
	UserAgent     string
}

// Publish makes an Approved version Effective and, in the same
// transaction, obsoletes the previously Effective version and repoints
// the document's current-version reference. A v0.x version is promoted
// to v1.0 here; this is the only event that rewrites a version string.
func (s *Service) Publish(
	p *models.Principal, in PublishInput,
) (*models.DocumentVersion, error) {
	version, doc, err := s.loadVersionAndDocument(in.VersionID)
	if err != nil {
		return nil, err
	}

	if err := rbac.Require(rbac.CanPublish(p), "publish_version"); err != nil {
		return nil, err
	}
	if version.Status != models.StatusApproved {
		return nil, errcode.Newf(errcode.IllegalTransition,
			"cannot publish a version in status %q", version.Status)
	}

	effectiveAt := s.now()
	if in.EffectiveDate != "" {
		parsed, err := dateparse.ParseAny(in.EffectiveDate)
		if err != nil {
			return nil, errcode.Newf(errcode.ValidationError,
				"invalid effective date: %q", in.EffectiveDate)
		}
		effectiveAt = parsed.UTC()
	}

	if err := s.auth.VerifyESignature(
		p, in.Password, "Publish", in.IPAddress, in.UserAgent); err != nil {
		return nil, err
	}

	var result *models.DocumentVersion
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// The document row lock serializes this Publish against any
		// concurrent Publish, CreateNextVersion, or Save on the same
		// document.
		lockedDoc, err := models.GetDocumentForUpdate(tx, doc.ID)
		if err != nil {
			return fmt.Errorf("error locking document: %w", err)
		}

		v := &models.DocumentVersion{ID: in.VersionID}
		if err := v.GetForUpdate(tx); err != nil {
			return fmt.Errorf("error locking version: %w", err)
		}
		if v.Status != models.StatusApproved {
			return errcode.Newf(errcode.IllegalTransition,
				"cannot publish a version in status %q", v.Status)
		}

		var previous *models.DocumentVersion
		prev, err := models.GetEffectiveVersion(tx, lockedDoc.ID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error locating effective version: %w", err)
		}
		if err == nil {
			previous = prev
		}

		// An Approved version may only supersede the version it was
		// revised from. When two Approved siblings race, the first
		// Publish obsoletes their shared parent and the second no longer
		// chains to the current Effective version.
		if previous != nil &&
			(v.ParentVersionID == nil || *v.ParentVersionID != previous.ID) {
			return errcode.Newf(errcode.IllegalTransition,
				"cannot publish %s: the Effective version is no longer its parent",
				v.VersionString)
		}

		now := s.now()
		versionString := v.VersionString
		if isPrePromotion(versionString) {
			versionString = promotedVersionString
		}

		if err := models.ClearLatestFlag(tx, lockedDoc.ID); err != nil {
			return fmt.Errorf("error clearing latest flags: %w", err)
		}

		v.Status = models.StatusEffective
		v.EffectiveAt = &effectiveAt
		v.PublishedByID = &p.ID
		v.VersionString = versionString
		v.IsLatest = true
		if err := tx.Model(v).Updates(map[string]interface{}{
			"status":          models.StatusEffective,
			"effective_at":    effectiveAt,
			"published_by_id": p.ID,
			"version_string":  versionString,
			"is_latest":       true,
		}).Error; err != nil {
			return fmt.Errorf("error updating published version: %w", err)
		}

		details := s.signatureDetails("Publish", lockedDoc, v)
		details["effective_at"] = effectiveAt

		if previous != nil {
			if err := tx.Model(previous).Updates(map[string]interface{}{
				"status":         models.StatusObsolete,
				"obsolete_at":    now,
				"replaced_by_id": v.ID,
				"is_latest":      false,
			}).Error; err != nil {
				return fmt.Errorf("error obsoleting previous version: %w", err)
			}
			details["obsoleted"] = []map[string]interface{}{{
				"version_id":     previous.ID,
				"version_string": previous.VersionString,
			}}
		}

		if err := lockedDoc.SetCurrentVersion(tx, v.ID); err != nil {
			return fmt.Errorf("error updating current version: %w", err)
		}

		if err := models.ValidateVersionInvariants(tx, lockedDoc.ID); err != nil {
			return errcode.Wrap(errcode.InvariantViolation,
				"publish would violate version invariants", err)
		}

		if err := s.recorder.Record(tx, audit.Event{
			Principal:  p,
			Action:     models.ActionVersionPublished,
			EntityKind: models.EntityVersion,
			EntityID:   v.ID,
			Description: fmt.Sprintf("published %s %s (E-Signature: %s)",
				lockedDoc.DocumentNumber, v.VersionString, p.Username),
			Details:   details,
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		}); err != nil {
			return err
		}

		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("version published",
		"document", doc.DocumentNumber,
		"version", result.VersionString,
		"effective_at", effectiveAt,
		"principal", p.Username,
	)
	return result, nil
}
