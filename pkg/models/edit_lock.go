package models

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EditLock is the exclusive lease on a draft version. At most one row
// exists per version; expired rows count as absent everywhere and are
// deleted opportunistically. Only the SHA-256 of the lock token is
// stored — the plaintext is returned once to the acquirer.
type EditLock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	VersionID uint             `gorm:"not null;uniqueIndex" json:"versionId"`
	Version   *DocumentVersion `gorm:"foreignKey:VersionID" json:"-"`

	TokenHash string `gorm:"type:varchar(64);not null" json:"-"`

	HolderID uint       `gorm:"not null;index" json:"holderId"`
	Holder   *Principal `gorm:"foreignKey:HolderID" json:"holder,omitempty"`

	AcquiredAt      time.Time `gorm:"not null" json:"acquiredAt"`
	ExpiresAt       time.Time `gorm:"not null;index" json:"expiresAt"`
	LastHeartbeatAt time.Time `gorm:"not null" json:"lastHeartbeatAt"`

	// SessionTag optionally identifies the client session (tab) that
	// acquired the lease.
	SessionTag string `gorm:"type:varchar(100)" json:"sessionTag,omitempty"`
}

// TableName specifies the table name.
func (EditLock) TableName() string {
	return "edit_locks"
}

// GenerateLockToken creates the opaque lease token with the format
// sopctl-lock-<uuid>-<random-suffix>.
func GenerateLockToken() (string, error) {
	id := uuid.New()

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("error generating random bytes: %w", err)
	}
	suffix := hex.EncodeToString(randomBytes)

	return fmt.Sprintf("sopctl-lock-%s-%s", id.String(), suffix), nil
}

// HashLockToken creates the SHA-256 hash of a token for storage.
func HashLockToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// Create stores the lock, hashing the plaintext token.
func (l *EditLock) Create(db *gorm.DB, token string) error {
	l.TokenHash = HashLockToken(token)
	return db.Create(l).Error
}

// Active reports whether the lease has not expired at now.
func (l *EditLock) Active(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// MatchesToken reports whether the supplied plaintext token is the one
// this lock was created with.
func (l *EditLock) MatchesToken(token string) bool {
	supplied := HashLockToken(token)
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(l.TokenHash)) == 1
}

// GetEditLock returns the lock row for a version, expired or not, or
// gorm.ErrRecordNotFound.
func GetEditLock(db *gorm.DB, versionID uint) (*EditLock, error) {
	var l EditLock
	err := db.Preload("Holder").Where("version_id = ?", versionID).First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetEditLockForUpdate returns the lock row under a row lock so
// concurrent acquire, release, and heartbeat calls on the same version
// serialize.
func GetEditLockForUpdate(tx *gorm.DB, versionID uint) (*EditLock, error) {
	var l EditLock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("version_id = ?", versionID).First(&l).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Extend advances the lease expiry and heartbeat timestamps.
func (l *EditLock) Extend(db *gorm.DB, expiresAt, heartbeatAt time.Time) error {
	l.ExpiresAt = expiresAt
	l.LastHeartbeatAt = heartbeatAt
	return db.Model(l).Updates(map[string]interface{}{
		"expires_at":        expiresAt,
		"last_heartbeat_at": heartbeatAt,
	}).Error
}

// Delete removes the lock row.
func (l *EditLock) Delete(db *gorm.DB) error {
	return db.Delete(l).Error
}

// DeleteExpiredLocks removes every lease that expired before now.
// Housekeeping only; correctness never depends on it running.
func DeleteExpiredLocks(db *gorm.DB, now time.Time) (int64, error) {
	result := db.Where("expires_at < ?", now).Delete(&EditLock{})
	return result.RowsAffected, result.Error
}
