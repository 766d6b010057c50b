package models

import (
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var departmentCodeRegexp = regexp.MustCompile(`^[A-Z]{4}$`)

// Document is a controlled SOP. The document row carries identity and
// ownership; all content lives on its versions. Soft-deleted documents
// disappear from listings but are retained for audit resolution.
type Document struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// DocumentNumber is either auto-generated
	// (SOP-<DEPT4>-<YYYYMMDD>-<NNNN>) or caller-supplied; unique either
	// way.
	DocumentNumber string `gorm:"type:varchar(64);not null;uniqueIndex" json:"documentNumber"`

	Title       string `gorm:"type:varchar(500);not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`

	// DepartmentCode is a four-letter uppercase code (e.g. QUAL, MANU).
	DepartmentCode string `gorm:"type:varchar(4);not null;index" json:"departmentCode"`

	Tags TagSet `gorm:"type:jsonb" json:"tags,omitempty"`

	OwnerID uint       `gorm:"not null;index" json:"ownerId"`
	Owner   *Principal `gorm:"foreignKey:OwnerID" json:"owner,omitempty"`

	// CurrentVersionID points at the Effective version, nil until the
	// first Publish.
	CurrentVersionID *uint `json:"currentVersionId,omitempty"`

	Versions []DocumentVersion `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"versions,omitempty"`
}

// TableName specifies the table name.
func (Document) TableName() string {
	return "documents"
}

func (d *Document) validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.DocumentNumber, validation.Required, validation.Length(1, 64)),
		validation.Field(&d.Title, validation.Required, validation.Length(1, 500)),
		validation.Field(&d.DepartmentCode, validation.Required, validation.Match(departmentCodeRegexp)),
		validation.Field(&d.OwnerID, validation.Required),
	)
}

// Create validates and inserts the document.
func (d *Document) Create(db *gorm.DB) error {
	if err := d.validate(); err != nil {
		return err
	}
	return db.Omit(clause.Associations).Create(d).Error
}

// Get retrieves the document by primary key with owner preloaded.
// Soft-deleted documents are not found.
func (d *Document) Get(db *gorm.DB) error {
	return db.Preload("Owner.Roles").First(d, d.ID).Error
}

// GetDocumentForUpdate retrieves the document row under a row lock.
// Publish, CreateNextVersion, and competing transitions on the same
// document serialize on this.
func GetDocumentForUpdate(tx *gorm.DB, id uint) (*Document, error) {
	var d Document
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&d, id).Error
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// GetWithVersions retrieves the document with its versions ordered by
// version number descending.
func (d *Document) GetWithVersions(db *gorm.DB) error {
	return db.Preload("Owner.Roles").
		Preload("Versions", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("version_number DESC")
		}).
		First(d, d.ID).Error
}

// UpdateMetadata patches title, description, department, and tags.
// Document numbers are never changed after creation.
func (d *Document) UpdateMetadata(db *gorm.DB) error {
	if err := d.validate(); err != nil {
		return err
	}
	return db.Model(d).
		Omit(clause.Associations).
		Select("title", "description", "department_code", "tags").
		Updates(d).Error
}

// SetCurrentVersion repoints the document's effective-version reference
// inside the caller's transaction.
func (d *Document) SetCurrentVersion(tx *gorm.DB, versionID uint) error {
	d.CurrentVersionID = &versionID
	return tx.Model(d).
		Omit(clause.Associations).
		Update("current_version_id", versionID).Error
}

// SoftDelete hides the document from listings while retaining the row.
func (d *Document) SoftDelete(db *gorm.DB) error {
	return db.Delete(d).Error
}

// TagList returns the document's tags as a plain string slice.
func (d *Document) TagList() []string {
	if len(d.Tags) == 0 {
		return nil
	}
	return []string(d.Tags)
}

// SetTagList replaces the Tags column.
func (d *Document) SetTagList(tags []string) error {
	if tags == nil {
		d.Tags = nil
		return nil
	}
	d.Tags = TagSet(tags)
	return nil
}

// DocumentsFilter narrows and orders document listings. Zero values mean
// "no filter". SortBy is a snake_case column name already mapped by the
// caller.
type DocumentsFilter struct {
	DepartmentCode string
	OwnerID        uint
	Status         VersionStatus // status of the version the document is currently at
	TitleContains  string
	Tag            string
	SortBy         string
	SortDesc       bool
	Offset         int
	Limit          int
}

// FindDocuments lists non-deleted documents matching the filter and the
// total count before pagination.
func FindDocuments(db *gorm.DB, filter DocumentsFilter) ([]Document, int64, error) {
	q := db.Model(&Document{})

	if filter.DepartmentCode != "" {
		q = q.Where("documents.department_code = ?", filter.DepartmentCode)
	}
	if filter.OwnerID != 0 {
		q = q.Where("documents.owner_id = ?", filter.OwnerID)
	}
	if filter.TitleContains != "" {
		q = q.Where("documents.title LIKE ?", "%"+filter.TitleContains+"%")
	}
	if filter.Tag != "" {
		q = q.Where("documents.tags LIKE ?", "%\""+filter.Tag+"\"%")
	}
	if filter.Status != "" {
		q = q.Joins(
			"JOIN document_versions ON document_versions.document_id = documents.id"+
				" AND document_versions.is_latest = ?"+
				" AND document_versions.status = ?",
			true, string(filter.Status))
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "updated_at"
	}
	order := "documents." + sortBy
	if filter.SortDesc {
		order += " DESC"
	}
	q = q.Order(order)

	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	var docs []Document
	if err := q.Preload("Owner").Find(&docs).Error; err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}
