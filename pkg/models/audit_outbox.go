package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// AuditOutbox stages committed audit entries for publication to the
// external compliance stream. Implements the transactional outbox
// pattern: the row is written in the same transaction as its audit
// entry, and the relay publishes pending rows asynchronously. The core's
// correctness never depends on the relay running.
type AuditOutbox struct {
	ID uint `gorm:"primaryKey" json:"id"`

	AuditEntryID uint        `gorm:"not null;uniqueIndex" json:"auditEntryId"`
	Entry        *AuditEntry `gorm:"foreignKey:AuditEntryID" json:"-"`

	Status          string     `gorm:"type:varchar(20);not null;default:'pending';index:idx_audit_outbox_pending,where:status = 'pending'" json:"status"`
	PublishedAt     *time.Time `json:"publishedAt,omitempty"`
	PublishAttempts int        `gorm:"default:0" json:"publishAttempts"`
	LastError       string     `gorm:"type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name.
func (AuditOutbox) TableName() string {
	return "audit_outbox"
}

// Outbox status constants.
const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

// BeforeCreate ensures required fields and the default status.
func (o *AuditOutbox) BeforeCreate(tx *gorm.DB) error {
	if o.AuditEntryID == 0 {
		return fmt.Errorf("audit_entry_id is required")
	}
	if o.Status == "" {
		o.Status = OutboxStatusPending
	}
	return nil
}

// Create stages the row. Must run in the same transaction as its audit
// entry.
func (o *AuditOutbox) Create(tx *gorm.DB) error {
	return tx.Create(o).Error
}

// FindPendingAuditOutbox retrieves pending rows oldest first for
// publishing.
func FindPendingAuditOutbox(db *gorm.DB, limit int) ([]AuditOutbox, error) {
	var entries []AuditOutbox
	err := db.Preload("Entry").
		Where("status = ?", OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// MarkAsPublished records a successful publish.
func (o *AuditOutbox) MarkAsPublished(db *gorm.DB) error {
	now := time.Now()
	return db.Model(o).Updates(map[string]interface{}{
		"status":       OutboxStatusPublished,
		"published_at": now,
		"updated_at":   now,
	}).Error
}

// MarkAsFailed records a publish failure with its error.
func (o *AuditOutbox) MarkAsFailed(db *gorm.DB, err error) error {
	o.PublishAttempts++
	o.Status = OutboxStatusFailed
	o.LastError = err.Error()

	return db.Model(o).Updates(map[string]interface{}{
		"status":           OutboxStatusFailed,
		"publish_attempts": o.PublishAttempts,
		"last_error":       err.Error(),
		"updated_at":       time.Now(),
	}).Error
}

// Retry resets the row to pending.
func (o *AuditOutbox) Retry(db *gorm.DB) error {
	return db.Model(o).Updates(map[string]interface{}{
		"status":     OutboxStatusPending,
		"last_error": "",
		"updated_at": time.Now(),
	}).Error
}

// DeleteOldPublishedAuditOutbox removes published rows older than the
// given duration to keep the table bounded.
func DeleteOldPublishedAuditOutbox(db *gorm.DB, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := db.
		Where("status = ? AND published_at < ?", OutboxStatusPublished, cutoff).
		Delete(&AuditOutbox{})
	return result.RowsAffected, result.Error
}

// GetFailedAuditOutbox retrieves failed rows for manual retry.
func GetFailedAuditOutbox(db *gorm.DB, limit int) ([]AuditOutbox, error) {
	var entries []AuditOutbox
	err := db.Preload("Entry").
		Where("status = ?", OutboxStatusFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

// CountAuditOutboxByStatus returns the count of rows in a given status.
func CountAuditOutboxByStatus(db *gorm.DB, status string) (int64, error) {
	var count int64
	err := db.Model(&AuditOutbox{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
