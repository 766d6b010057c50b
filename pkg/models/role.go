package models

import (
	"gorm.io/gorm"
)

// Role names form a closed set. DMS_Admin is a superset capability:
// anything a workflow role may do, an admin may do too.
const (
	RoleAuthor   = "Author"
	RoleReviewer = "Reviewer"
	RoleApprover = "Approver"
	RoleAdmin    = "DMS_Admin"
)

// AllRoleNames lists every recognized role name.
func AllRoleNames() []string {
	return []string{RoleAuthor, RoleReviewer, RoleApprover, RoleAdmin}
}

// ValidRoleName reports whether name is one of the recognized roles.
func ValidRoleName(name string) bool {
	switch name {
	case RoleAuthor, RoleReviewer, RoleApprover, RoleAdmin:
		return true
	}
	return false
}

// Role is a named capability grouping assigned to principals through the
// principal_roles join table.
type Role struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"type:varchar(30);not null;uniqueIndex" json:"name"`
}

// TableName specifies the table name.
func (Role) TableName() string {
	return "roles"
}

// FirstOrCreate finds the role by name, creating it if missing.
func (r *Role) FirstOrCreate(db *gorm.DB) error {
	return db.Where(Role{Name: r.Name}).FirstOrCreate(r).Error
}

// GetRolesByName resolves a list of role names to Role rows, creating
// any that do not exist yet. Used by seeding and tests.
func GetRolesByName(db *gorm.DB, names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, name := range names {
		r := Role{Name: name}
		if err := r.FirstOrCreate(db); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}
