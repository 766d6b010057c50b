package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VersionStatus is the lifecycle state of a document version.
type VersionStatus string

const (
	StatusDraft           VersionStatus = "Draft"
	StatusUnderReview     VersionStatus = "Under Review"
	StatusPendingApproval VersionStatus = "Pending Approval"
	StatusApproved        VersionStatus = "Approved"
	StatusEffective       VersionStatus = "Effective"
	StatusObsolete        VersionStatus = "Obsolete"
	StatusRejected        VersionStatus = "Rejected"
	StatusArchived        VersionStatus = "Archived"
)

// Valid reports whether s is a recognized status.
func (s VersionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusUnderReview, StatusPendingApproval,
		StatusApproved, StatusEffective, StatusObsolete,
		StatusRejected, StatusArchived:
		return true
	}
	return false
}

// Immutable reports whether content, hash, and version string are frozen
// in this status.
func (s VersionStatus) Immutable() bool {
	switch s {
	case StatusApproved, StatusEffective, StatusObsolete, StatusArchived:
		return true
	}
	return false
}

// ChangeType classifies a controlled revision.
type ChangeType string

const (
	ChangeMinor ChangeType = "Minor"
	ChangeMajor ChangeType = "Major"
)

// Valid reports whether c is a recognized change type.
func (c ChangeType) Valid() bool {
	return c == ChangeMinor || c == ChangeMajor
}

// HashContent returns the lowercase hex SHA-256 of the exact content
// bytes. This is the token used for optimistic concurrency on saves.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// DocumentVersion is one revision of a document's content plus its full
// workflow trail. Version numbers are monotonic per document; version
// strings are assigned by the lifecycle engine and never edited.
type DocumentVersion struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	DocumentID uint      `gorm:"not null;index;uniqueIndex:idx_versions_document_number,priority:1" json:"documentId"`
	Document   *Document `gorm:"foreignKey:DocumentID" json:"-"`

	VersionNumber int    `gorm:"not null;uniqueIndex:idx_versions_document_number,priority:2" json:"versionNumber"`
	VersionString string `gorm:"type:varchar(20);not null" json:"versionString"`

	Status VersionStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	// Content is the opaque HTML blob; ContentHash is SHA-256 over its
	// exact bytes and always kept in step with it.
	Content     string `gorm:"type:text" json:"content,omitempty"`
	ContentHash string `gorm:"type:varchar(64);not null" json:"contentHash"`

	ChangeSummary string      `gorm:"type:text" json:"changeSummary"`
	ChangeType    *ChangeType `gorm:"type:varchar(10)" json:"changeType,omitempty"`
	ChangeReason  string      `gorm:"type:text" json:"changeReason"`

	ParentVersionID *uint            `gorm:"index" json:"parentVersionId,omitempty"`
	ParentVersion   *DocumentVersion `gorm:"foreignKey:ParentVersionID" json:"-"`

	// IsLatest marks the newest version of the document; exactly one per
	// document whenever any version exists.
	IsLatest bool `gorm:"not null;default:false;index" json:"isLatest"`

	// ReplacedByID is set exactly when the version is Obsolete.
	ReplacedByID *uint `json:"replacedById,omitempty"`

	// LockVersion increments on every successful content save.
	LockVersion int `gorm:"not null;default:0" json:"lockVersion"`

	// AutosaveCount counts autosaves since the last manual save; drives
	// decile audit coalescing.
	AutosaveCount int `gorm:"not null;default:0" json:"-"`

	SubmittedAt   *time.Time `json:"submittedAt,omitempty"`
	SubmittedByID *uint      `json:"submittedById,omitempty"`
	ReviewedAt    *time.Time `json:"reviewedAt,omitempty"`
	ReviewedByID  *uint      `json:"reviewedById,omitempty"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	ApprovedByID  *uint      `json:"approvedById,omitempty"`
	RejectedAt    *time.Time `json:"rejectedAt,omitempty"`
	RejectedByID  *uint      `json:"rejectedById,omitempty"`
	EffectiveAt   *time.Time `json:"effectiveAt,omitempty"`
	PublishedByID *uint      `json:"publishedById,omitempty"`
	ObsoleteAt    *time.Time `json:"obsoleteAt,omitempty"`
	ArchivedAt    *time.Time `json:"archivedAt,omitempty"`
	ArchivedByID  *uint      `json:"archivedById,omitempty"`
}

// TableName specifies the table name.
func (DocumentVersion) TableName() string {
	return "document_versions"
}

// BeforeCreate keeps the content hash in step with content and defaults
// the status.
func (v *DocumentVersion) BeforeCreate(tx *gorm.DB) error {
	if v.Status == "" {
		v.Status = StatusDraft
	}
	if !v.Status.Valid() {
		return fmt.Errorf("invalid status: %s", v.Status)
	}
	if v.ContentHash == "" {
		v.ContentHash = HashContent(v.Content)
	}
	return nil
}

// Create inserts the version.
func (v *DocumentVersion) Create(db *gorm.DB) error {
	return db.Omit(clause.Associations).Create(v).Error
}

// Get retrieves the version by primary key.
func (v *DocumentVersion) Get(db *gorm.DB) error {
	return db.First(v, v.ID).Error
}

// GetForUpdate retrieves the version by primary key under a row lock.
// Must run inside a transaction; this is how transitions and saves
// serialize against each other on the same version.
func (v *DocumentVersion) GetForUpdate(tx *gorm.DB) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(v, v.ID).Error
}

// GetDocumentVersion retrieves a version scoped to a document.
func GetDocumentVersion(db *gorm.DB, documentID, versionID uint) (*DocumentVersion, error) {
	var v DocumentVersion
	err := db.Where("document_id = ?", documentID).First(&v, versionID).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetVersionByID retrieves a version by primary key alone. Lock and
// comment operations address versions without a document id.
func GetVersionByID(db *gorm.DB, versionID uint) (*DocumentVersion, error) {
	var v DocumentVersion
	if err := db.First(&v, versionID).Error; err != nil {
		return nil, err
	}
	return &v, nil
}

// FindVersionsByDocument lists a document's versions, newest first.
func FindVersionsByDocument(db *gorm.DB, documentID uint) ([]DocumentVersion, error) {
	var versions []DocumentVersion
	err := db.Where("document_id = ?", documentID).
		Order("version_number DESC").
		Find(&versions).Error
	return versions, err
}

// GetEffectiveVersion returns the document's Effective version or
// gorm.ErrRecordNotFound.
func GetEffectiveVersion(db *gorm.DB, documentID uint) (*DocumentVersion, error) {
	var v DocumentVersion
	err := db.Where("document_id = ? AND status = ?", documentID, StatusEffective).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// GetDraftVersion returns the document's Draft version or
// gorm.ErrRecordNotFound.
func GetDraftVersion(db *gorm.DB, documentID uint) (*DocumentVersion, error) {
	var v DocumentVersion
	err := db.Where("document_id = ? AND status = ?", documentID, StatusDraft).
		First(&v).Error
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// MaxVersionNumber returns the highest version number on the document,
// zero when none exist.
func MaxVersionNumber(db *gorm.DB, documentID uint) (int, error) {
	var max *int
	err := db.Model(&DocumentVersion{}).
		Where("document_id = ?", documentID).
		Select("MAX(version_number)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

// ClearLatestFlag unsets is_latest on every version of the document.
// Used inside the transaction that crowns a new latest version.
func ClearLatestFlag(tx *gorm.DB, documentID uint) error {
	return tx.Model(&DocumentVersion{}).
		Where("document_id = ? AND is_latest = ?", documentID, true).
		Update("is_latest", false).Error
}

// ValidateVersionInvariants re-checks the per-document storage
// invariants before a transaction commits: at most one Effective
// version, at most one Draft, exactly one is_latest when any version
// exists, and every replaced version's successor descends from it.
// Violations abort the transaction.
func ValidateVersionInvariants(tx *gorm.DB, documentID uint) error {
	var result *multierror.Error

	var effective, draft, latest, total int64
	if err := tx.Model(&DocumentVersion{}).
		Where("document_id = ? AND status = ?", documentID, StatusEffective).
		Count(&effective).Error; err != nil {
		return err
	}
	if err := tx.Model(&DocumentVersion{}).
		Where("document_id = ? AND status = ?", documentID, StatusDraft).
		Count(&draft).Error; err != nil {
		return err
	}
	if err := tx.Model(&DocumentVersion{}).
		Where("document_id = ? AND is_latest = ?", documentID, true).
		Count(&latest).Error; err != nil {
		return err
	}
	if err := tx.Model(&DocumentVersion{}).
		Where("document_id = ?", documentID).
		Count(&total).Error; err != nil {
		return err
	}

	var brokenChain int64
	if err := tx.Model(&DocumentVersion{}).
		Joins("JOIN document_versions replacer ON replacer.id = document_versions.replaced_by_id").
		Where("document_versions.document_id = ?", documentID).
		Where("replacer.parent_version_id IS NULL OR replacer.parent_version_id <> document_versions.id").
		Count(&brokenChain).Error; err != nil {
		return err
	}

	if effective > 1 {
		result = multierror.Append(result, fmt.Errorf(
			"document %d has %d effective versions", documentID, effective))
	}
	if draft > 1 {
		result = multierror.Append(result, fmt.Errorf(
			"document %d has %d draft versions", documentID, draft))
	}
	if total > 0 && latest != 1 {
		result = multierror.Append(result, fmt.Errorf(
			"document %d has %d versions flagged latest", documentID, latest))
	}
	if brokenChain > 0 {
		result = multierror.Append(result, fmt.Errorf(
			"document %d has %d replaced versions whose successor does not descend from them",
			documentID, brokenChain))
	}

	return result.ErrorOrNil()
}
