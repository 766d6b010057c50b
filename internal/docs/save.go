package docs

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/pkg/database"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// SaveInput carries one content save. ExpectedHash, when set, is the
// client's view of the last saved hash; a mismatch means another writer
// (usually the same user in another tab) got there first.
type SaveInput struct {
	VersionID    uint
	Content      string
	LockToken    string
	ExpectedHash string
	IsAutosave   bool
	IPAddress    string
	UserAgent    string
}

// SaveResult reports the stored state after a save.
type SaveResult struct {
	ContentHash string `json:"contentHash"`
	LockVersion int    `json:"lockVersion"`

	// Unchanged is true when the new content hashed identically to the
	// stored content and nothing was written.
	Unchanged bool `json:"unchanged,omitempty"`
}

// SaveContent writes a draft's content under the edit lock. Saves are
// double-gated: the lock keeps two writers out, and the expected-hash
// check catches the same writer racing itself. Identical content
// short-circuits without a write or an audit entry.
func (s *Service) SaveContent(
	p *models.Principal, in SaveInput,
) (*SaveResult, error) {
	var result *SaveResult
	err := database.RetryTransient(func() error {
		return s.db.Transaction(func(tx *gorm.DB) error {
			v := &models.DocumentVersion{ID: in.VersionID}
			if err := v.GetForUpdate(tx); err != nil {
				return errcode.Wrap(errcode.NotFound, "version not found", err)
			}
			if v.Status != models.StatusDraft {
				return errcode.Newf(errcode.IllegalStatus,
					"version is %s; only drafts can be saved", v.Status)
			}

			if err := s.locks.RequireLock(tx, v.ID, p, in.LockToken); err != nil {
				return err
			}

			if in.ExpectedHash != "" && in.ExpectedHash != v.ContentHash {
				return errcode.New(errcode.Conflict,
					"content was changed since your last save").
					WithDetail("current_hash", v.ContentHash).
					WithDetail("lock_version", v.LockVersion)
			}

			newHash := models.HashContent(in.Content)
			if newHash == v.ContentHash {
				result = &SaveResult{
					ContentHash: v.ContentHash,
					LockVersion: v.LockVersion,
					Unchanged:   true,
				}
				return nil
			}

			beforeHash := v.ContentHash
			updates := map[string]interface{}{
				"content":      in.Content,
				"content_hash": newHash,
				"lock_version": v.LockVersion + 1,
			}

			recordAudit := true
			autosaveCount := 0
			if in.IsAutosave {
				autosaveCount = v.AutosaveCount + 1
				updates["autosave_count"] = autosaveCount
				recordAudit = shouldAuditAutosave(autosaveCount)
			} else {
				updates["autosave_count"] = 0
			}

			// Updates writes the map values back into v, lock_version
			// included.
			if err := tx.Model(v).Updates(updates).Error; err != nil {
				return fmt.Errorf("error saving content: %w", err)
			}

			if recordAudit {
				details := map[string]interface{}{
					"before_hash": beforeHash,
					"after_hash":  newHash,
					"is_autosave": in.IsAutosave,
				}
				if in.IsAutosave {
					details["autosave_count"] = autosaveCount
				}
				if err := s.recorder.Record(tx, audit.Event{
					Principal:   p,
					Action:      models.ActionVersionSaved,
					EntityKind:  models.EntityVersion,
					EntityID:    v.ID,
					Description: "content saved",
					Details:     details,
					IPAddress:   in.IPAddress,
					UserAgent:   in.UserAgent,
				}); err != nil {
					return err
				}
			}

			result = &SaveResult{
				ContentHash: newHash,
				LockVersion: v.LockVersion,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// shouldAuditAutosave implements decile coalescing: the 1st, 10th,
// 20th, ... autosave since the last manual save gets an audit row; the
// rest are folded into the next decile record.
func shouldAuditAutosave(count int) bool {
	return count == 1 || count%10 == 0
}
