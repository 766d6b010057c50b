package models

import (
	"errors"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var usernameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,62}$`)

// Principal is an authenticated actor. Principals are never hard-deleted;
// deactivation preserves audit references to their id and username.
type Principal struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Username is stored lowercase and unique.
	Username string `gorm:"type:varchar(63);not null;uniqueIndex" json:"username"`

	// CredentialHash is the bcrypt hash of the principal's credential.
	// The plaintext is never stored.
	CredentialHash string `gorm:"type:varchar(100);not null" json:"-"`

	DisplayName string `gorm:"type:varchar(255)" json:"displayName"`

	// Active gates login and every capability check. Deactivated
	// principals keep their rows so audit entries stay resolvable.
	Active bool `gorm:"not null;default:true" json:"active"`

	Roles []Role `gorm:"many2many:principal_roles;" json:"roles"`

	// Single-session bookkeeping. ActiveSessionID is the session id
	// embedded in the currently-valid bearer token; a login with
	// force=true rotates it, superseding the previous session.
	ActiveSessionID   *string    `gorm:"type:varchar(64)" json:"-"`
	SessionIssuedAt   *time.Time `json:"-"`
	SessionExpiresAt  *time.Time `json:"-"`
	SessionLastSeenAt *time.Time `json:"-"`
}

// TableName specifies the table name.
func (Principal) TableName() string {
	return "principals"
}

// BeforeSave normalizes the username.
func (p *Principal) BeforeSave(tx *gorm.DB) error {
	p.Username = strings.ToLower(strings.TrimSpace(p.Username))
	return nil
}

// Create validates and inserts the principal with its role associations.
func (p *Principal) Create(db *gorm.DB) error {
	p.Username = strings.ToLower(strings.TrimSpace(p.Username))

	if err := validation.ValidateStruct(p,
		validation.Field(&p.Username,
			validation.Required,
			validation.Match(usernameRegexp)),
		validation.Field(&p.CredentialHash, validation.Required),
	); err != nil {
		return err
	}

	return db.Create(p).Error
}

// Get retrieves the principal by primary key with roles preloaded.
func (p *Principal) Get(db *gorm.DB) error {
	return db.Preload("Roles").First(p, p.ID).Error
}

// GetPrincipalByUsername retrieves an active-or-inactive principal by
// username (case-insensitive) with roles preloaded.
func GetPrincipalByUsername(db *gorm.DB, username string) (*Principal, error) {
	var p Principal
	err := db.Preload("Roles").
		Where("username = ?", strings.ToLower(strings.TrimSpace(username))).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrincipalByID retrieves a principal by primary key with roles
// preloaded.
func GetPrincipalByID(db *gorm.DB, id uint) (*Principal, error) {
	var p Principal
	if err := db.Preload("Roles").First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrincipalForUpdate retrieves the principal row under a row lock so
// concurrent session mutations serialize.
func GetPrincipalForUpdate(tx *gorm.DB, id uint) (*Principal, error) {
	var p Principal
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// HasRole reports whether the principal's loaded role set contains name.
// DMS_Admin does not implicitly satisfy other names here; capability
// widening is the rbac layer's job.
func (p *Principal) HasRole(name string) bool {
	for _, r := range p.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal holds DMS_Admin.
func (p *Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin)
}

// RoleNames returns the loaded role names in stable order.
func (p *Principal) RoleNames() []string {
	names := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		names = append(names, r.Name)
	}
	return names
}

// ReplaceRoles swaps the principal's role assignments.
func (p *Principal) ReplaceRoles(db *gorm.DB, roles []Role) error {
	if err := db.Model(p).Association("Roles").Replace(roles); err != nil {
		return err
	}
	p.Roles = roles
	return nil
}

// SetSession records a fresh single-session grant.
func (p *Principal) SetSession(db *gorm.DB, sessionID string, issuedAt, expiresAt time.Time) error {
	return db.Model(p).
		Omit(clause.Associations).
		Updates(map[string]interface{}{
			"active_session_id":    sessionID,
			"session_issued_at":    issuedAt,
			"session_expires_at":   expiresAt,
			"session_last_seen_at": issuedAt,
		}).Error
}

// ClearSession drops the active session, if any.
func (p *Principal) ClearSession(db *gorm.DB) error {
	return db.Model(p).
		Omit(clause.Associations).
		Updates(map[string]interface{}{
			"active_session_id":    nil,
			"session_issued_at":    nil,
			"session_expires_at":   nil,
			"session_last_seen_at": nil,
		}).Error
}

// TouchSessionLastSeen records probe activity. Callers throttle writes;
// the model just persists the timestamp.
func (p *Principal) TouchSessionLastSeen(db *gorm.DB, now time.Time) error {
	return db.Model(p).
		Omit(clause.Associations).
		Update("session_last_seen_at", now).Error
}

// HasActiveSession reports whether the stored session grant is still
// within its expiry window at now.
func (p *Principal) HasActiveSession(now time.Time) bool {
	return p.ActiveSessionID != nil &&
		p.SessionExpiresAt != nil &&
		now.Before(*p.SessionExpiresAt)
}

// Deactivate flags the principal inactive and clears any session so
// probes observe "deactivated" rather than "valid".
func (p *Principal) Deactivate(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(p).
			Omit(clause.Associations).
			Update("active", false).Error; err != nil {
			return err
		}
		return p.ClearSession(tx)
	})
}

// UpsertPrincipal creates the principal if the username is new, else
// updates display name, active flag, and roles. The credential hash is
// written only when the row is new or the stored hash is empty; seeding
// never silently rotates an existing credential.
func UpsertPrincipal(db *gorm.DB, in *Principal) (*Principal, error) {
	existing, err := GetPrincipalByUsername(db, in.Username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := in.Create(db); err != nil {
				return nil, err
			}
			return in, nil
		}
		return nil, err
	}

	updates := map[string]interface{}{
		"display_name": in.DisplayName,
		"active":       in.Active,
	}
	if existing.CredentialHash == "" {
		updates["credential_hash"] = in.CredentialHash
	}
	if err := db.Model(existing).
		Omit(clause.Associations).
		Updates(updates).Error; err != nil {
		return nil, err
	}
	if len(in.Roles) > 0 {
		if err := existing.ReplaceRoles(db, in.Roles); err != nil {
			return nil, err
		}
	}
	return existing, nil
}
