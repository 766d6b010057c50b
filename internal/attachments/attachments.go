// Package attachments handles immutable file uploads owned by a
// document or one of its versions. Blobs are content-addressed: the
// stored name is the SHA-256 of the bytes plus the original extension,
// so re-uploading identical content to the same parent dedupes to the
// existing row and deletion never has to touch the blob.
package attachments

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/rbac"
	"github.com/provenworks/sopctl/pkg/blobstore"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// maxUploadBytes caps a single attachment at 100 MiB.
const maxUploadBytes = 100 << 20

// Service stores and serves attachments.
type Service struct {
	db       *gorm.DB
	log      hclog.Logger
	recorder *audit.Recorder
	store    blobstore.Store
}

// NewService returns an attachments service over the given blob store.
func NewService(
	db *gorm.DB, log hclog.Logger, recorder *audit.Recorder,
	store blobstore.Store,
) *Service {
	return &Service{
		db:       db,
		log:      log.Named("attachments"),
		recorder: recorder,
		store:    store,
	}
}

// UploadInput describes one upload. Exactly one of DocumentID or
// VersionID must be set.
type UploadInput struct {
	Filename    string
	ContentType string
	Description string

	DocumentID *uint
	VersionID  *uint

	IPAddress string
	UserAgent string
}

// Upload streams the bytes into the blob store while hashing them, then
// records the attachment row. An existing non-deleted attachment with
// the same hash on the same parent is returned unchanged.
func (s *Service) Upload(
	ctx context.Context, p *models.Principal, r io.Reader, in UploadInput,
) (*models.Attachment, error) {
	doc, err := s.resolveParent(in.DocumentID, in.VersionID)
	if err != nil {
		return nil, err
	}
	if err := rbac.Require(
		rbac.CanEditDocument(p, doc), "upload_attachment"); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("error reading upload: %w", err)
	}
	if len(data) > maxUploadBytes {
		return nil, errcode.New(errcode.ValidationError,
			"attachment exceeds the maximum size")
	}
	if len(data) == 0 {
		return nil, errcode.New(errcode.ValidationError,
			"attachment is empty")
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := models.FindAttachmentByParentAndHash(
		s.db, in.DocumentID, in.VersionID, hash)
	if err == nil {
		s.log.Debug("upload deduplicated",
			"hash", hash, "attachment_id", existing.ID)
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("error checking for duplicate: %w", err)
	}

	storedName := hash + sanitizeExt(in.Filename)
	if _, err := s.store.Put(ctx, storedName,
		bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("error storing blob: %w", err)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(sanitizeExt(in.Filename))
	}

	attachment := &models.Attachment{
		Filename:    in.Filename,
		ContentHash: hash,
		StoredName:  storedName,
		Size:        int64(len(data)),
		ContentType: contentType,
		Description: in.Description,
		UploaderID:  p.ID,
		DocumentID:  in.DocumentID,
		VersionID:   in.VersionID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := attachment.Create(tx); err != nil {
			return errcode.Wrap(errcode.ValidationError, "invalid attachment", err)
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionAttachmentUploaded,
			EntityKind:  models.EntityAttachment,
			EntityID:    attachment.ID,
			Description: fmt.Sprintf("uploaded %s", attachment.Filename),
			Details: map[string]interface{}{
				"filename":     attachment.Filename,
				"content_hash": hash,
				"size":         attachment.Size,
			},
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}

	return attachment, nil
}

// Get returns one attachment's metadata.
func (s *Service) Get(id uint) (*models.Attachment, error) {
	a := &models.Attachment{ID: id}
	if err := a.Get(s.db); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "attachment not found")
		}
		return nil, fmt.Errorf("error loading attachment: %w", err)
	}
	return a, nil
}

// Download opens the attachment's bytes. Callers must close the reader.
func (s *Service) Download(
	ctx context.Context, id uint,
) (*models.Attachment, io.ReadCloser, error) {
	a, err := s.Get(id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, a.StoredName)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening blob: %w", err)
	}
	return a, rc, nil
}

// Delete soft-deletes the attachment. The blob stays; other rows may
// share it and the trail references it.
func (s *Service) Delete(
	p *models.Principal, id uint, ip, ua string,
) error {
	a, err := s.Get(id)
	if err != nil {
		return err
	}

	doc, err := s.resolveParent(a.DocumentID, a.VersionID)
	if err != nil {
		return err
	}
	if !p.IsAdmin() && a.UploaderID != p.ID {
		if err := rbac.Require(
			rbac.CanEditDocument(p, doc), "delete_attachment"); err != nil {
			return err
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := a.SoftDelete(tx); err != nil {
			return fmt.Errorf("error deleting attachment: %w", err)
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionAttachmentDeleted,
			EntityKind:  models.EntityAttachment,
			EntityID:    a.ID,
			Description: fmt.Sprintf("deleted %s", a.Filename),
			Details: map[string]interface{}{
				"filename":     a.Filename,
				"content_hash": a.ContentHash,
			},
			IPAddress: ip,
			UserAgent: ua,
		})
	})
}

// ListByDocument lists a document's attachments.
func (s *Service) ListByDocument(documentID uint) ([]models.Attachment, error) {
	attachments, err := models.FindAttachmentsByDocument(s.db, documentID)
	if err != nil {
		return nil, fmt.Errorf("error listing attachments: %w", err)
	}
	return attachments, nil
}

// ListByVersion lists a version's attachments.
func (s *Service) ListByVersion(versionID uint) ([]models.Attachment, error) {
	attachments, err := models.FindAttachmentsByVersion(s.db, versionID)
	if err != nil {
		return nil, fmt.Errorf("error listing attachments: %w", err)
	}
	return attachments, nil
}

// resolveParent loads the owning document from whichever parent id is
// set, enforcing exactly-one.
func (s *Service) resolveParent(
	documentID, versionID *uint,
) (*models.Document, error) {
	switch {
	case documentID != nil && versionID == nil:
		doc := &models.Document{ID: *documentID}
		if err := doc.Get(s.db); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errcode.New(errcode.NotFound, "document not found")
			}
			return nil, fmt.Errorf("error loading document: %w", err)
		}
		return doc, nil

	case versionID != nil && documentID == nil:
		v, err := models.GetVersionByID(s.db, *versionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errcode.New(errcode.NotFound, "version not found")
			}
			return nil, fmt.Errorf("error loading version: %w", err)
		}
		doc := &models.Document{ID: v.DocumentID}
		if err := doc.Get(s.db); err != nil {
			return nil, fmt.Errorf("error loading document: %w", err)
		}
		return doc, nil

	default:
		return nil, errcode.New(errcode.ValidationError,
			"exactly one of document or version must be the parent")
	}
}

// sanitizeExt keeps only a plausible file extension for the stored
// name; everything else of the filename is metadata.
func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
