// Package export gathers a version's content and workflow metadata and
// hands them to the external HTML-to-DOCX renderer. The translation
// itself is an external collaborator; this package only assembles
// inputs, audits the export, and names the result.
package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// Signatory is one workflow stamp included in the rendered document.
type Signatory struct {
	Action   string    `json:"action"`
	Username string    `json:"username"`
	SignedAt time.Time `json:"signedAt"`
}

// RenderRequest is the payload sent to the renderer.
type RenderRequest struct {
	HTML           string      `json:"html"`
	Title          string      `json:"title"`
	DocumentNumber string      `json:"documentNumber"`
	VersionString  string      `json:"versionString"`
	Status         string      `json:"status"`
	EffectiveDate  *time.Time  `json:"effectiveDate,omitempty"`
	Signatories    []Signatory `json:"signatories,omitempty"`
}

// Renderer converts a render request into DOCX bytes.
type Renderer interface {
	RenderDocx(ctx context.Context, req RenderRequest) ([]byte, error)
}

// Service orchestrates DOCX exports.
type Service struct {
	db       *gorm.DB
	log      hclog.Logger
	recorder *audit.Recorder
	renderer Renderer
}

// NewService returns an export service. renderer may be nil when export
// is not configured; ExportDocx then fails with VALIDATION_ERROR.
func NewService(
	db *gorm.DB, log hclog.Logger, recorder *audit.Recorder, renderer Renderer,
) *Service {
	return &Service{
		db:       db,
		log:      log.Named("export"),
		recorder: recorder,
		renderer: renderer,
	}
}

// Result is a finished export.
type Result struct {
	Filename string
	Bytes    []byte
}

// ExportDocx renders one version to DOCX. Any authenticated principal
// may export; the action is recorded in the audit trail.
func (s *Service) ExportDocx(
	ctx context.Context, p *models.Principal, versionID uint, ip, ua string,
) (*Result, error) {
	if s.renderer == nil {
		return nil, errcode.New(errcode.ValidationError,
			"document export is not configured")
	}

	version, err := models.GetVersionByID(s.db, versionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "version not found")
		}
		return nil, fmt.Errorf("error loading version: %w", err)
	}
	doc := &models.Document{ID: version.DocumentID}
	if err := doc.Get(s.db); err != nil {
		return nil, fmt.Errorf("error loading document: %w", err)
	}

	signatories, err := s.signatories(version)
	if err != nil {
		return nil, err
	}

	req := RenderRequest{
		HTML:           version.Content,
		Title:          doc.Title,
		DocumentNumber: doc.DocumentNumber,
		VersionString:  version.VersionString,
		Status:         string(version.Status),
		EffectiveDate:  version.EffectiveAt,
		Signatories:    signatories,
	}

	data, err := s.renderer.RenderDocx(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("error rendering docx: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.recorder.Record(tx, audit.Event{
			Principal:  p,
			Action:     models.ActionVersionExported,
			EntityKind: models.EntityVersion,
			EntityID:   version.ID,
			Description: fmt.Sprintf("exported %s %s to docx",
				doc.DocumentNumber, version.VersionString),
			Details: map[string]interface{}{
				"document_number": doc.DocumentNumber,
				"version_number":  version.VersionString,
				"bytes":           len(data),
			},
			IPAddress: ip,
			UserAgent: ua,
		})
	})
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("%s_%s.docx",
		doc.DocumentNumber, strings.ReplaceAll(version.VersionString, ".", "_"))
	return &Result{Filename: filename, Bytes: data}, nil
}

// signatories collects the version's workflow stamps with the usernames
// resolved at export time.
func (s *Service) signatories(v *models.DocumentVersion) ([]Signatory, error) {
	type stamp struct {
		action string
		at     *time.Time
		byID   *uint
	}
	stamps := []stamp{
		{"Submitted", v.SubmittedAt, v.SubmittedByID},
		{"Reviewed", v.ReviewedAt, v.ReviewedByID},
		{"Approved", v.ApprovedAt, v.ApprovedByID},
		{"Published", v.EffectiveAt, v.PublishedByID},
		{"Archived", v.ArchivedAt, v.ArchivedByID},
	}

	var signatories []Signatory
	for _, st := range stamps {
		if st.at == nil || st.byID == nil {
			continue
		}
		principal, err := models.GetPrincipalByID(s.db, *st.byID)
		if err != nil {
			return nil, fmt.Errorf("error resolving signatory: %w", err)
		}
		signatories = append(signatories, Signatory{
			Action:   st.action,
			Username: principal.Username,
			SignedAt: *st.at,
		})
	}
	return signatories, nil
}
