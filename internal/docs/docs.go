// Package docs serves document and version reads and the non-transition
// mutations: metadata patches, soft deletion, and the save path with its
// lock and content-hash gates.
package docs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/iancoleman/strcase"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/locks"
	"github.com/provenworks/sopctl/internal/rbac"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// Service handles document CRUD and content saves.
type Service struct {
	db       *gorm.DB
	log      hclog.Logger
	recorder *audit.Recorder
	locks    *locks.Coordinator
}

// NewService returns a docs service.
func NewService(
	db *gorm.DB, log hclog.Logger, recorder *audit.Recorder,
	coordinator *locks.Coordinator,
) *Service {
	return &Service{
		db:       db,
		log:      log.Named("docs"),
		recorder: recorder,
		locks:    coordinator,
	}
}

// sortColumns whitelists the sortable listing columns. Callers may send
// camelCase names; they are snake-cased before the lookup.
var sortColumns = map[string]bool{
	"title":           true,
	"document_number": true,
	"department_code": true,
	"created_at":      true,
	"updated_at":      true,
}

// ListInput filters and paginates document listings.
type ListInput struct {
	DepartmentCode string
	OwnerID        uint
	Status         string
	TitleContains  string
	Tag            string
	SortBy         string
	SortDesc       bool
	Offset         int
	Limit          int
}

// DocumentPage is one page of a listing.
type DocumentPage struct {
	Documents []models.Document `json:"documents"`
	Total     int64             `json:"total"`
	Offset    int               `json:"offset"`
	Limit     int               `json:"limit"`
}

// ListDocuments returns non-deleted documents matching the filters. All
// authenticated roles may list.
func (s *Service) ListDocuments(in ListInput) (*DocumentPage, error) {
	limit := in.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sortBy := strcase.ToSnake(strings.TrimSpace(in.SortBy))
	if sortBy != "" && !sortColumns[sortBy] {
		return nil, errcode.Newf(errcode.ValidationError,
			"cannot sort by %q", in.SortBy)
	}

	status := models.VersionStatus(in.Status)
	if in.Status != "" && !status.Valid() {
		return nil, errcode.Newf(errcode.ValidationError,
			"unknown status %q", in.Status)
	}

	docs, total, err := models.FindDocuments(s.db, models.DocumentsFilter{
		DepartmentCode: strings.ToUpper(strings.TrimSpace(in.DepartmentCode)),
		OwnerID:        in.OwnerID,
		Status:         status,
		TitleContains:  in.TitleContains,
		Tag:            in.Tag,
		SortBy:         sortBy,
		SortDesc:       in.SortDesc,
		Offset:         in.Offset,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("error listing documents: %w", err)
	}

	return &DocumentPage{
		Documents: docs,
		Total:     total,
		Offset:    in.Offset,
		Limit:     limit,
	}, nil
}

// GetDocument returns the document with its versions, newest first.
func (s *Service) GetDocument(id uint) (*models.Document, error) {
	doc := &models.Document{ID: id}
	if err := doc.GetWithVersions(s.db); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "document not found")
		}
		return nil, fmt.Errorf("error loading document: %w", err)
	}
	return doc, nil
}

// GetVersion returns one version scoped to its document.
func (s *Service) GetVersion(documentID, versionID uint) (*models.DocumentVersion, error) {
	v, err := models.GetDocumentVersion(s.db, documentID, versionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "version not found")
		}
		return nil, fmt.Errorf("error loading version: %w", err)
	}
	return v, nil
}

// MetadataPatch updates document-level metadata. Nil fields are left
// unchanged. Department codes are fixed at creation because the document
// number embeds them.
type MetadataPatch struct {
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// UpdateDocumentMetadata patches title, description, and tags on a
// document. Owning Author or Admin only.
func (s *Service) UpdateDocumentMetadata(
	p *models.Principal, id uint, patch MetadataPatch, ip, ua string,
) (*models.Document, error) {
	doc := &models.Document{ID: id}
	if err := doc.Get(s.db); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "document not found")
		}
		return nil, fmt.Errorf("error loading document: %w", err)
	}

	if err := rbac.Require(
		rbac.CanEditDocument(p, doc), "edit_document"); err != nil {
		return nil, err
	}

	changed := map[string]interface{}{}
	if patch.Title != nil {
		doc.Title = strings.TrimSpace(*patch.Title)
		changed["title"] = doc.Title
	}
	if patch.Description != nil {
		doc.Description = *patch.Description
		changed["description"] = true
	}
	if patch.Tags != nil {
		if err := doc.SetTagList(patch.Tags); err != nil {
			return nil, fmt.Errorf("error encoding tags: %w", err)
		}
		changed["tags"] = patch.Tags
	}
	if len(changed) == 0 {
		return doc, nil
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := doc.UpdateMetadata(tx); err != nil {
			return errcode.Wrap(errcode.ValidationError, "invalid document", err)
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionDocumentUpdated,
			EntityKind:  models.EntityDocument,
			EntityID:    doc.ID,
			Description: fmt.Sprintf("updated metadata of %s", doc.DocumentNumber),
			Details:     changed,
			IPAddress:   ip,
			UserAgent:   ua,
		})
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SoftDeleteDocument hides a document from listings. Admin only, and
// never while a version is Effective; an effective SOP must be archived
// through the lifecycle first.
func (s *Service) SoftDeleteDocument(
	p *models.Principal, id uint, ip, ua string,
) error {
	doc := &models.Document{ID: id}
	if err := doc.Get(s.db); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errcode.New(errcode.NotFound, "document not found")
		}
		return fmt.Errorf("error loading document: %w", err)
	}

	if err := rbac.Require(
		rbac.CanDeleteDocument(p), "delete_document"); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if _, err := models.GetEffectiveVersion(tx, doc.ID); err == nil {
			return errcode.New(errcode.IllegalStatus,
				"document has an effective version; archive it first")
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error checking effective version: %w", err)
		}

		if err := doc.SoftDelete(tx); err != nil {
			return fmt.Errorf("error deleting document: %w", err)
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionDocumentDeleted,
			EntityKind:  models.EntityDocument,
			EntityID:    doc.ID,
			Description: fmt.Sprintf("deleted %s", doc.DocumentNumber),
			Details: map[string]interface{}{
				"document_number": doc.DocumentNumber,
			},
			IPAddress: ip,
			UserAgent: ua,
		})
	})
}

// DraftPatch updates draft-only revision metadata. Nil fields are left
// unchanged.
type DraftPatch struct {
	ChangeSummary *string            `json:"changeSummary,omitempty"`
	ChangeType    *models.ChangeType `json:"changeType,omitempty"`
	ChangeReason  *string            `json:"changeReason,omitempty"`
}

// UpdateDraftMetadata patches change summary, type, and reason on a
// Draft. Requires ownership but no edit lock; these fields are not the
// content blob.
func (s *Service) UpdateDraftMetadata(
	p *models.Principal, versionID uint, patch DraftPatch, ip, ua string,
) (*models.DocumentVersion, error) {
	_, doc, err := s.loadVersionAndDocument(versionID)
	if err != nil {
		return nil, err
	}

	if err := rbac.Require(
		rbac.CanEditDocument(p, doc), "edit_document"); err != nil {
		return nil, err
	}

	if patch.ChangeType != nil && !patch.ChangeType.Valid() {
		return nil, errcode.Newf(errcode.ValidationError,
			"change type must be %q or %q", models.ChangeMinor, models.ChangeMajor)
	}

	var result *models.DocumentVersion
	err = s.db.Transaction(func(tx *gorm.DB) error {
		v := &models.DocumentVersion{ID: versionID}
		if err := v.GetForUpdate(tx); err != nil {
			return fmt.Errorf("error locking version: %w", err)
		}
		if v.Status != models.StatusDraft {
			return errcode.Newf(errcode.IllegalStatus,
				"version is %s; only draft metadata can be edited", v.Status)
		}

		updates := map[string]interface{}{}
		if patch.ChangeSummary != nil {
			v.ChangeSummary = *patch.ChangeSummary
			updates["change_summary"] = *patch.ChangeSummary
		}
		if patch.ChangeType != nil {
			v.ChangeType = patch.ChangeType
			updates["change_type"] = *patch.ChangeType
		}
		if patch.ChangeReason != nil {
			v.ChangeReason = *patch.ChangeReason
			updates["change_reason"] = *patch.ChangeReason
		}
		if len(updates) == 0 {
			result = v
			return nil
		}

		if err := tx.Model(v).Updates(updates).Error; err != nil {
			return fmt.Errorf("error updating draft metadata: %w", err)
		}

		if err := s.recorder.Record(tx, audit.Event{
			Principal:  p,
			Action:     models.ActionVersionUpdated,
			EntityKind: models.EntityVersion,
			EntityID:   v.ID,
			Description: fmt.Sprintf("updated draft metadata of %s %s",
				doc.DocumentNumber, v.VersionString),
			Details:   map[string]interface{}{"fields": fieldNames(updates)},
			IPAddress: ip,
			UserAgent: ua,
		}); err != nil {
			return err
		}

		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func fieldNames(updates map[string]interface{}) []string {
	names := make([]string, 0, len(updates))
	for k := range updates {
		names = append(names, k)
	}
	return names
}

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
