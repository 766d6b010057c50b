package workflow

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/rbac"
	"github.com/provenworks/sopctl/pkg/database"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// CreateDocumentInput describes a new controlled document.
type CreateDocumentInput struct {
	Title          string
	Description    string
	DepartmentCode string
	Tags           []string

	// DocumentNumber, when set, is used verbatim instead of the
	// generated SOP-<DEPT4>-<YYYYMMDD>-<NNNN> form. Legacy documents
	// migrate under their historical numbers this way. Must be unique.
	DocumentNumber string

	// CreateInitialDraft also creates the v0.1 Draft in the same
	// transaction.
	CreateInitialDraft bool
	InitialContent     string

	IPAddress string
	UserAgent string
}

// CreateDocument creates the document row and, when requested, its v0.1
// Draft atomically, assigning the generated document number.
func (s *Service) CreateDocument(
	p *models.Principal, in CreateDocumentInput,
) (*models.Document, error) {
	if err := rbac.Require(
		rbac.CanCreateDocument(p), "create_document"); err != nil {
		return nil, err
	}

	in.DepartmentCode = strings.ToUpper(strings.TrimSpace(in.DepartmentCode))

	var doc *models.Document
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := s.now()

		number := strings.TrimSpace(in.DocumentNumber)
		if number == "" {
			var err error
			number, err = models.NextDocumentNumber(tx, in.DepartmentCode, now)
			if err != nil {
				return err
			}
		}

		doc = &models.Document{
			DocumentNumber: number,
			Title:          strings.TrimSpace(in.Title),
			Description:    in.Description,
			DepartmentCode: in.DepartmentCode,
			OwnerID:        p.ID,
		}
		if err := doc.SetTagList(in.Tags); err != nil {
			return fmt.Errorf("error encoding tags: %w", err)
		}
		if err := doc.Create(tx); err != nil {
			if database.IsDuplicateKey(err) {
				return errcode.Newf(errcode.AlreadyExists,
					"document number %q is already in use", number)
			}
			return errcode.Wrap(errcode.ValidationError,
				"invalid document", err)
		}

		if err := s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionDocumentCreated,
			EntityKind:  models.EntityDocument,
			EntityID:    doc.ID,
			Description: fmt.Sprintf("created %s", doc.DocumentNumber),
			Details: map[string]interface{}{
				"document_number": doc.DocumentNumber,
				"title":           doc.Title,
				"department_code": doc.DepartmentCode,
			},
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		}); err != nil {
			return err
		}

		if !in.CreateInitialDraft {
			return nil
		}

		version := &models.DocumentVersion{
			DocumentID:    doc.ID,
			VersionNumber: 1,
			VersionString: initialVersionString,
			Status:        models.StatusDraft,
			Content:       in.InitialContent,
			ChangeSummary: "Initial version",
			IsLatest:      true,
		}
		if err := version.Create(tx); err != nil {
			return fmt.Errorf("error creating initial version: %w", err)
		}
		doc.Versions = []models.DocumentVersion{*version}

		return s.recorder.Record(tx, audit.Event{
			Principal:  p,
			Action:     models.ActionVersionCreated,
			EntityKind: models.EntityVersion,
			EntityID:   version.ID,
			Description: fmt.Sprintf("created %s %s",
				doc.DocumentNumber, version.VersionString),
			Details: map[string]interface{}{
				"document_number": doc.DocumentNumber,
				"version_number":  version.VersionString,
			},
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("document created",
		"document", doc.DocumentNumber, "principal", p.Username)
	return doc, nil
}

// NextVersionInput describes a controlled revision of an Effective
// version.
type NextVersionInput struct {
	ParentVersionID uint
	ChangeType      models.ChangeType
	ChangeReason    string
	IPAddress       string
	UserAgent       string
}

// CreateNextVersion creates the successor Draft of an Effective
// version: content and attachment metadata cloned, version number
// max+1, version string bumped by change type. Fails when the document
// already has a Draft.
func (s *Service) CreateNextVersion(
	p *models.Principal, in NextVersionInput,
) (*models.DocumentVersion, error) {
	parent, doc, err := s.loadVersionAndDocument(in.ParentVersionID)
	if err != nil {
		return nil, err
	}

	if err := rbac.Require(
		rbac.CanEditDocument(p, doc), "create_next_version"); err != nil {
		return nil, err
	}

	if !in.ChangeType.Valid() {
		return nil, errcode.Newf(errcode.ValidationError,
			"change type must be %q or %q", models.ChangeMinor, models.ChangeMajor)
	}
	if err := validation.Validate(in.ChangeReason,
		validation.Required, validation.Length(10, 1000)); err != nil {
		return nil, errcode.Wrap(errcode.ValidationError,
			"change reason must be 10 to 1000 characters", err)
	}

	var version *models.DocumentVersion
	err = s.db.Transaction(func(tx *gorm.DB) error {
		lockedDoc, err := models.GetDocumentForUpdate(tx, doc.ID)
		if err != nil {
			return fmt.Errorf("error locking document: %w", err)
		}

		lockedParent := &models.DocumentVersion{ID: parent.ID}
		if err := lockedParent.GetForUpdate(tx); err != nil {
			return fmt.Errorf("error locking parent version: %w", err)
		}
		if lockedParent.Status != models.StatusEffective {
			return errcode.Newf(errcode.IllegalStatus,
				"next version requires an Effective parent; parent is %q",
				lockedParent.Status)
		}

		if _, err := models.GetDraftVersion(tx, lockedDoc.ID); err == nil {
			return errcode.New(errcode.AlreadyExists,
				"document already has a draft version")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error checking for existing draft: %w", err)
		}

		maxNumber, err := models.MaxVersionNumber(tx, lockedDoc.ID)
		if err != nil {
			return fmt.Errorf("error finding max version number: %w", err)
		}

		versionString, err := bumpVersionString(
			lockedParent.VersionString, in.ChangeType)
		if err != nil {
			return errcode.Wrap(errcode.InvariantViolation,
				"parent carries a malformed version string", err)
		}

		if err := models.ClearLatestFlag(tx, lockedDoc.ID); err != nil {
			return fmt.Errorf("error clearing latest flags: %w", err)
		}

		changeType := in.ChangeType
		version = &models.DocumentVersion{
			DocumentID:      lockedDoc.ID,
			VersionNumber:   maxNumber + 1,
			VersionString:   versionString,
			Status:          models.StatusDraft,
			Content:         lockedParent.Content,
			ContentHash:     lockedParent.ContentHash,
			ChangeType:      &changeType,
			ChangeReason:    in.ChangeReason,
			ParentVersionID: &lockedParent.ID,
			IsLatest:        true,
		}
		if err := version.Create(tx); err != nil {
			return fmt.Errorf("error creating next version: %w", err)
		}

		cloned, err := models.CloneAttachmentsToVersion(
			tx, lockedParent.ID, version.ID)
		if err != nil {
			return fmt.Errorf("error cloning attachments: %w", err)
		}

		if err := models.ValidateVersionInvariants(tx, lockedDoc.ID); err != nil {
			return errcode.Wrap(errcode.InvariantViolation,
				"next version would violate version invariants", err)
		}

		return s.recorder.Record(tx, audit.Event{
			Principal:  p,
			Action:     models.ActionVersionCreated,
			EntityKind: models.EntityVersion,
			EntityID:   version.ID,
			Description: fmt.Sprintf("created %s %s from %s",
				lockedDoc.DocumentNumber, versionString,
				lockedParent.VersionString),
			Details: map[string]interface{}{
				"document_number":    lockedDoc.DocumentNumber,
				"version_number":     versionString,
				"parent_version":     lockedParent.VersionString,
				"change_type":        string(in.ChangeType),
				"change_reason":      in.ChangeReason,
				"cloned_attachments": cloned,
			},
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("next version created",
		"document", doc.DocumentNumber,
		"version", version.VersionString,
		"change_type", in.ChangeType,
		"principal", p.Username,
	)
	return version, nil
}
