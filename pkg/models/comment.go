package models

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Comment is inline reviewer feedback anchored to a text selection on a
// version. The verbatim selected substring is the canonical anchor;
// offsets and context are hints for highlighting and may go stale as
// surrounding content changes.
type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	VersionID uint             `gorm:"not null;index" json:"versionId"`
	Version   *DocumentVersion `gorm:"foreignKey:VersionID" json:"-"`

	AuthorID uint       `gorm:"not null;index" json:"authorId"`
	Author   *Principal `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	Body string `gorm:"type:text;not null" json:"body"`

	AnchorText    string `gorm:"type:text" json:"anchorText,omitempty"`
	AnchorStart   *int   `json:"anchorStart,omitempty"`
	AnchorEnd     *int   `json:"anchorEnd,omitempty"`
	AnchorContext string `gorm:"type:text" json:"anchorContext,omitempty"`

	Resolved     bool       `gorm:"not null;default:false;index" json:"resolved"`
	ResolvedByID *uint      `json:"resolvedById,omitempty"`
	ResolvedBy   *Principal `gorm:"foreignKey:ResolvedByID" json:"resolvedBy,omitempty"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// TableName specifies the table name.
func (Comment) TableName() string {
	return "comments"
}

// Create validates and inserts the comment.
func (c *Comment) Create(db *gorm.DB) error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.VersionID, validation.Required),
		validation.Field(&c.AuthorID, validation.Required),
		validation.Field(&c.Body, validation.Required, validation.Length(1, 10000)),
	); err != nil {
		return err
	}
	return db.Omit(clause.Associations).Create(c).Error
}

// Get retrieves the comment by primary key with author preloaded.
func (c *Comment) Get(db *gorm.DB) error {
	return db.Preload("Author").Preload("ResolvedBy").First(c, c.ID).Error
}

// UpdateBody replaces the comment text.
func (c *Comment) UpdateBody(db *gorm.DB, body string) error {
	if err := validation.Validate(body,
		validation.Required, validation.Length(1, 10000)); err != nil {
		return err
	}
	c.Body = body
	return db.Model(c).Omit(clause.Associations).Update("body", body).Error
}

// Resolve marks the comment resolved by the given principal.
func (c *Comment) Resolve(db *gorm.DB, principalID uint, now time.Time) error {
	c.Resolved = true
	c.ResolvedByID = &principalID
	c.ResolvedAt = &now
	return db.Model(c).Omit(clause.Associations).Updates(map[string]interface{}{
		"resolved":       true,
		"resolved_by_id": principalID,
		"resolved_at":    now,
	}).Error
}

// Unresolve reopens the comment.
func (c *Comment) Unresolve(db *gorm.DB) error {
	c.Resolved = false
	c.ResolvedByID = nil
	c.ResolvedAt = nil
	return db.Model(c).Omit(clause.Associations).Updates(map[string]interface{}{
		"resolved":       false,
		"resolved_by_id": nil,
		"resolved_at":    nil,
	}).Error
}

// Delete removes the comment. The audit trail retains the action.
func (c *Comment) Delete(db *gorm.DB) error {
	return db.Delete(c).Error
}

// FindCommentsByVersion lists a version's comments oldest first,
// optionally including resolved ones.
func FindCommentsByVersion(db *gorm.DB, versionID uint, includeResolved bool) ([]Comment, error) {
	q := db.Preload("Author").Preload("ResolvedBy").
		Where("version_id = ?", versionID)
	if !includeResolved {
		q = q.Where("resolved = ?", false)
	}

	var comments []Comment
	err := q.Order("created_at ASC").Find(&comments).Error
	return comments, err
}

// CountUnresolvedComments returns the number of open comments on the
// given versions. Used by the task feed to rank drafts.
func CountUnresolvedComments(db *gorm.DB, versionIDs []uint) (int64, error) {
	if len(versionIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := db.Model(&Comment{}).
		Where("version_id IN ? AND resolved = ?", versionIDs, false).
		Count(&count).Error
	return count, err
}
