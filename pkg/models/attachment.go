package models

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Attachment is an immutable uploaded file owned by either a document or
// one of its versions, never both. Files are stored content-addressed as
// <sha256><ext>; uploads with a hash already present on the same parent
// dedupe to the existing row. Deletion is soft and the underlying blob
// is retained.
type Attachment struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Filename    string `gorm:"type:varchar(255);not null" json:"filename"`
	ContentHash string `gorm:"type:varchar(64);not null;index" json:"contentHash"`
	StoredName  string `gorm:"type:varchar(100);not null" json:"-"`
	Size        int64  `gorm:"not null" json:"size"`
	ContentType string `gorm:"type:varchar(127)" json:"contentType"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	UploaderID uint       `gorm:"not null;index" json:"uploaderId"`
	Uploader   *Principal `gorm:"foreignKey:UploaderID" json:"uploader,omitempty"`

	DocumentID *uint `gorm:"index" json:"documentId,omitempty"`
	VersionID  *uint `gorm:"index" json:"versionId,omitempty"`
}

// TableName specifies the table name.
func (Attachment) TableName() string {
	return "attachments"
}

func exactlyOneParent(a *Attachment) validation.RuleFunc {
	return func(interface{}) error {
		has := 0
		if a.DocumentID != nil {
			has++
		}
		if a.VersionID != nil {
			has++
		}
		if has != 1 {
			return errors.New("must reference exactly one of document or version")
		}
		return nil
	}
}

// Create validates and inserts the attachment.
func (a *Attachment) Create(db *gorm.DB) error {
	if err := validation.ValidateStruct(a,
		validation.Field(&a.Filename, validation.Required, validation.Length(1, 255)),
		validation.Field(&a.ContentHash, validation.Required, validation.Length(64, 64)),
		validation.Field(&a.StoredName, validation.Required),
		validation.Field(&a.UploaderID, validation.Required),
		validation.Field(&a.DocumentID, validation.By(exactlyOneParent(a))),
	); err != nil {
		return err
	}
	return db.Omit(clause.Associations).Create(a).Error
}

// Get retrieves the attachment by primary key. Soft-deleted rows are not
// found.
func (a *Attachment) Get(db *gorm.DB) error {
	return db.Preload("Uploader").First(a, a.ID).Error
}

// SoftDelete hides the attachment; the stored blob is retained.
func (a *Attachment) SoftDelete(db *gorm.DB) error {
	return db.Delete(a).Error
}

// FindAttachmentByParentAndHash returns an existing non-deleted
// attachment with the same content hash on the same parent, or
// gorm.ErrRecordNotFound. This is the dedupe probe for uploads.
func FindAttachmentByParentAndHash(db *gorm.DB, documentID, versionID *uint, hash string) (*Attachment, error) {
	q := db.Where("content_hash = ?", hash)
	switch {
	case documentID != nil:
		q = q.Where("document_id = ?", *documentID)
	case versionID != nil:
		q = q.Where("version_id = ?", *versionID)
	default:
		return nil, gorm.ErrRecordNotFound
	}

	var a Attachment
	if err := q.First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// FindAttachmentsByDocument lists a document's non-deleted attachments.
func FindAttachmentsByDocument(db *gorm.DB, documentID uint) ([]Attachment, error) {
	var attachments []Attachment
	err := db.Preload("Uploader").
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&attachments).Error
	return attachments, err
}

// FindAttachmentsByVersion lists a version's non-deleted attachments.
func FindAttachmentsByVersion(db *gorm.DB, versionID uint) ([]Attachment, error) {
	var attachments []Attachment
	err := db.Preload("Uploader").
		Where("version_id = ?", versionID).
		Order("created_at ASC").
		Find(&attachments).Error
	return attachments, err
}

// CloneAttachmentsToVersion copies a version's attachment rows onto a
// new version and returns how many were cloned. The underlying blobs
// are content-addressed so only the metadata rows are duplicated. Runs
// inside the caller's transaction.
func CloneAttachmentsToVersion(tx *gorm.DB, fromVersionID, toVersionID uint) (int, error) {
	attachments, err := FindAttachmentsByVersion(tx, fromVersionID)
	if err != nil {
		return 0, err
	}
	for i := range attachments {
		clone := attachments[i]
		clone.ID = 0
		clone.CreatedAt = time.Time{}
		clone.UpdatedAt = time.Time{}
		clone.VersionID = &toVersionID
		clone.Uploader = nil
		if err := tx.Omit(clause.Associations).Create(&clone).Error; err != nil {
			return 0, err
		}
	}
	return len(attachments), nil
}
