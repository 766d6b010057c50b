package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentNumberCounter backs the per-department, per-day suffix of
// auto-generated document numbers. One row per (department, day);
// increments happen under a row lock inside the create-document
// transaction so two concurrent creates cannot mint the same number.
type DocumentNumberCounter struct {
	ID             uint   `gorm:"primaryKey"`
	DepartmentCode string `gorm:"type:varchar(4);not null;uniqueIndex:idx_doc_number_counter_dept_day"`
	Day            string `gorm:"type:varchar(8);not null;uniqueIndex:idx_doc_number_counter_dept_day"`
	Counter        int    `gorm:"not null;default:0"`
}

// TableName specifies the table name.
func (DocumentNumberCounter) TableName() string {
	return "document_number_counters"
}

// NextDocumentNumber mints the next SOP-<DEPT4>-<YYYYMMDD>-<NNNN> number
// for the department. Must run inside the caller's transaction; the
// counter row is locked for update so the increment serializes with any
// concurrent create on the same department and day.
func NextDocumentNumber(tx *gorm.DB, departmentCode string, now time.Time) (string, error) {
	day := now.UTC().Format("20060102")

	// Ensure the row exists. On conflict another transaction created it
	// first, which is fine.
	seed := DocumentNumberCounter{DepartmentCode: departmentCode, Day: day}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return "", fmt.Errorf("error seeding document number counter: %w", err)
	}

	var counter DocumentNumberCounter
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("department_code = ? AND day = ?", departmentCode, day).
		First(&counter).Error; err != nil {
		return "", fmt.Errorf("error locking document number counter: %w", err)
	}

	counter.Counter++
	if err := tx.Model(&counter).Update("counter", counter.Counter).Error; err != nil {
		return "", fmt.Errorf("error incrementing document number counter: %w", err)
	}

	return fmt.Sprintf("SOP-%s-%s-%04d", departmentCode, day, counter.Counter), nil
}
