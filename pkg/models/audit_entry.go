package models

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
)

// AuditAction is the stable code identifying what an audit entry records.
type AuditAction string

const (
	ActionDocumentCreated AuditAction = "DOCUMENT_CREATED"
	ActionDocumentUpdated AuditAction = "DOCUMENT_UPDATED"
	ActionDocumentDeleted AuditAction = "DOCUMENT_DELETED"

	ActionVersionCreated          AuditAction = "VERSION_CREATED"
	ActionVersionSaved            AuditAction = "VERSION_SAVED"
	ActionVersionUpdated          AuditAction = "VERSION_UPDATED"
	ActionVersionSubmitted        AuditAction = "VERSION_SUBMITTED"
	ActionVersionReviewApproved   AuditAction = "VERSION_REVIEW_APPROVED"
	ActionVersionChangesRequested AuditAction = "VERSION_CHANGES_REQUESTED"
	ActionVersionApproved         AuditAction = "VERSION_APPROVED"
	ActionVersionRejected         AuditAction = "VERSION_REJECTED"
	ActionVersionPublished        AuditAction = "VERSION_PUBLISHED"
	ActionVersionArchived         AuditAction = "VERSION_ARCHIVED"
	ActionVersionExported         AuditAction = "VERSION_EXPORTED"

	ActionLockAcquired AuditAction = "LOCK_ACQUIRED"
	ActionLockReleased AuditAction = "LOCK_RELEASED"

	ActionCommentCreated    AuditAction = "COMMENT_CREATED"
	ActionCommentUpdated    AuditAction = "COMMENT_UPDATED"
	ActionCommentResolved   AuditAction = "COMMENT_RESOLVED"
	ActionCommentUnresolved AuditAction = "COMMENT_UNRESOLVED"
	ActionCommentDeleted    AuditAction = "COMMENT_DELETED"

	ActionAttachmentUploaded AuditAction = "ATTACHMENT_UPLOADED"
	ActionAttachmentDeleted  AuditAction = "ATTACHMENT_DELETED"

	ActionLoginSuccess     AuditAction = "LOGIN_SUCCESS"
	ActionLoginFailure     AuditAction = "LOGIN_FAILURE"
	ActionLogout           AuditAction = "LOGOUT"
	ActionESignatureFailed AuditAction = "ESIGNATURE_FAILED"
	ActionPasswordReset    AuditAction = "PASSWORD_RESET"
	ActionPrincipalCreated AuditAction = "PRINCIPAL_CREATED"

	ActionPermissionDenied AuditAction = "PERMISSION_DENIED"
)

// Entity kinds referenced by audit entries.
const (
	EntityDocument   = "document"
	EntityVersion    = "version"
	EntityComment    = "comment"
	EntityAttachment = "attachment"
	EntityPrincipal  = "principal"
	EntityLock       = "edit_lock"
)

// AuditEntry is one immutable record of a state-changing operation. Rows
// are written in the same transaction as the mutation they describe and
// are never updated or deleted afterward; the model enforces this with
// hooks that fail any update or delete.
type AuditEntry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`

	// Principal id is nullable: failed logins may reference no known
	// principal. The username is denormalized so the entry stays
	// readable even if the principal record later changes.
	PrincipalID       *uint  `gorm:"index" json:"principalId,omitempty"`
	PrincipalUsername string `gorm:"type:varchar(63);not null;index" json:"principalUsername"`

	Action     AuditAction `gorm:"type:varchar(40);not null;index" json:"action"`
	EntityKind string      `gorm:"type:varchar(30);index" json:"entityKind"`
	EntityID   uint        `gorm:"index" json:"entityId"`

	Description string `gorm:"type:text" json:"description"`

	// Details carries structured context such as before/after content
	// hashes or the e-signature flag.
	Details JSON `gorm:"type:jsonb" json:"details,omitempty"`

	// ESigned mirrors details.esignature for indexed compliance queries.
	// The details map remains the authoritative record.
	ESigned bool `gorm:"column:esigned;not null;default:false;index" json:"esigned"`

	IPAddress string `gorm:"type:varchar(45)" json:"ipAddress,omitempty"`
	UserAgent string `gorm:"type:varchar(255)" json:"userAgent,omitempty"`
}

// TableName specifies the table name.
func (AuditEntry) TableName() string {
	return "audit_entries"
}

// Create validates and appends the entry. This is the only write path.
func (e *AuditEntry) Create(db *gorm.DB) error {
	if err := validation.ValidateStruct(e,
		validation.Field(&e.PrincipalUsername, validation.Required),
		validation.Field(&e.Action, validation.Required),
	); err != nil {
		return err
	}
	return db.Create(e).Error
}

// BeforeUpdate blocks every update; the trail is append-only.
func (e *AuditEntry) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("audit entries are append-only")
}

// BeforeDelete blocks every delete; the trail is append-only.
func (e *AuditEntry) BeforeDelete(tx *gorm.DB) error {
	return errors.New("audit entries are append-only")
}

// AuditFilter narrows audit retrieval. Zero values mean "no filter".
type AuditFilter struct {
	PrincipalID uint
	Username    string
	Action      AuditAction
	EntityKind  string
	EntityID    uint
	ESignedOnly bool
	From        *time.Time
	Until       *time.Time
	Offset      int
	Limit       int
}

// FindAuditEntries lists entries newest first with the total count
// before pagination.
func FindAuditEntries(db *gorm.DB, filter AuditFilter) ([]AuditEntry, int64, error) {
	q := db.Model(&AuditEntry{})

	if filter.PrincipalID != 0 {
		q = q.Where("principal_id = ?", filter.PrincipalID)
	}
	if filter.Username != "" {
		q = q.Where("principal_username = ?", filter.Username)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.EntityKind != "" {
		q = q.Where("entity_kind = ?", filter.EntityKind)
	}
	if filter.EntityID != 0 {
		q = q.Where("entity_id = ?", filter.EntityID)
	}
	if filter.ESignedOnly {
		q = q.Where("esigned = ?", true)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.Until != nil {
		q = q.Where("created_at <= ?", *filter.Until)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q = q.Order("created_at DESC, id DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var entries []AuditEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// CountAuditEntries returns the number of entries matching the filter.
func CountAuditEntries(db *gorm.DB, filter AuditFilter) (int64, error) {
	_, total, err := FindAuditEntries(db, AuditFilter{
		PrincipalID: filter.PrincipalID,
		Username:    filter.Username,
		Action:      filter.Action,
		EntityKind:  filter.EntityKind,
		EntityID:    filter.EntityID,
		ESignedOnly: filter.ESignedOnly,
		From:        filter.From,
		Until:       filter.Until,
		Limit:       1,
	})
	return total, err
}
