// Package comments stores reviewer feedback anchored to text selections
// on document versions. The verbatim selected substring is the canonical
// anchor; stored offsets are rendering hints only and a comment stays
// valid even when its substring no longer appears in the content.
package comments

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/rbac"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// Service handles comment creation, moderation, and resolution.
type Service struct {
	db       *gorm.DB
	log      hclog.Logger
	recorder *audit.Recorder

	// now is swappable in tests.
	now func() time.Time
}

// NewService returns a comments service.
func NewService(db *gorm.DB, log hclog.Logger, recorder *audit.Recorder) *Service {
	return &Service{
		db:       db,
		log:      log.Named("comments"),
		recorder: recorder,
		now:      time.Now,
	}
}

// Anchor is the text selection a comment points at. Text is the
// verbatim selected substring; Start, End, and Context help the UI
// re-highlight but are never trusted for matching.
type Anchor struct {
	Text    string `json:"text,omitempty"`
	Start   *int   `json:"start,omitempty"`
	End     *int   `json:"end,omitempty"`
	Context string `json:"context,omitempty"`
}

// CreateInput describes a new comment.
type CreateInput struct {
	VersionID uint
	Body      string
	Anchor    Anchor
	IPAddress string
	UserAgent string
}

// Create adds a comment to a version. Reviewers, Approvers, and Admins
// may comment on any non-Draft version; Drafts accept comments from
// Admins only.
func (s *Service) Create(
	p *models.Principal, in CreateInput,
) (*models.Comment, error) {
	version, err := s.loadVersion(in.VersionID)
	if err != nil {
		return nil, err
	}

	if err := rbac.Require(
		rbac.CanComment(p, version), "comment_on_version"); err != nil {
		return nil, err
	}

	comment := &models.Comment{
		VersionID:     version.ID,
		AuthorID:      p.ID,
		Body:          in.Body,
		AnchorText:    in.Anchor.Text,
		AnchorStart:   in.Anchor.Start,
		AnchorEnd:     in.Anchor.End,
		AnchorContext: in.Anchor.Context,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := comment.Create(tx); err != nil {
			return errcode.Wrap(errcode.ValidationError, "invalid comment", err)
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionCommentCreated,
			EntityKind:  models.EntityComment,
			EntityID:    comment.ID,
			Description: "comment created",
			Details: map[string]interface{}{
				"version_id":  version.ID,
				"anchor_text": in.Anchor.Text,
			},
			IPAddress: in.IPAddress,
			UserAgent: in.UserAgent,
		})
	})
	if err != nil {
		return nil, err
	}

	comment.Author = p
	return comment, nil
}

// Edit replaces a comment's body. Author or Admin only.
func (s *Service) Edit(
	p *models.Principal, commentID uint, body, ip, ua string,
) (*models.Comment, error) {
	comment, err := s.loadComment(commentID)
	if err != nil {
		return nil, err
	}

	if err := rbac.Require(
		rbac.CanEditComment(p, comment), "edit_comment"); err != nil {
		return nil, err
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := comment.UpdateBody(tx, body); err != nil {
			return errcode.Wrap(errcode.ValidationError, "invalid comment", err)
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionCommentUpdated,
			EntityKind:  models.EntityComment,
			EntityID:    comment.ID,
			Description: "comment edited",
			Details:     map[string]interface{}{"version_id": comment.VersionID},
			IPAddress:   ip,
			UserAgent:   ua,
		})
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// Delete removes a comment. Author or Admin only; the audit trail keeps
// the action and the removed body.
func (s *Service) Delete(
	p *models.Principal, commentID uint, ip, ua string,
) error {
	comment, err := s.loadComment(commentID)
	if err != nil {
		return err
	}

	if err := rbac.Require(
		rbac.CanDeleteComment(p, comment), "delete_comment"); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := comment.Delete(tx); err != nil {
			return fmt.Errorf("error deleting comment: %w", err)
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      models.ActionCommentDeleted,
			EntityKind:  models.EntityComment,
			EntityID:    comment.ID,
			Description: "comment deleted",
			Details: map[string]interface{}{
				"version_id": comment.VersionID,
				"body":       comment.Body,
			},
			IPAddress: ip,
			UserAgent: ua,
		})
	})
}

// Resolve marks a comment handled. Any principal who may comment on the
// version may resolve.
func (s *Service) Resolve(
	p *models.Principal, commentID uint, ip, ua string,
) (*models.Comment, error) {
	return s.setResolved(p, commentID, true, ip, ua)
}

// Unresolve reopens a resolved comment.
func (s *Service) Unresolve(
	p *models.Principal, commentID uint, ip, ua string,
) (*models.Comment, error) {
	return s.setResolved(p, commentID, false, ip, ua)
}

func (s *Service) setResolved(
	p *models.Principal, commentID uint, resolved bool, ip, ua string,
) (*models.Comment, error) {
	comment, err := s.loadComment(commentID)
	if err != nil {
		return nil, err
	}
	version, err := s.loadVersion(comment.VersionID)
	if err != nil {
		return nil, err
	}

	if err := rbac.Require(
		rbac.CanResolveComment(p, version), "resolve_comment"); err != nil {
		return nil, err
	}

	action := models.ActionCommentResolved
	description := "comment resolved"
	if !resolved {
		action = models.ActionCommentUnresolved
		description = "comment reopened"
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if resolved {
			if err := comment.Resolve(tx, p.ID, s.now()); err != nil {
				return fmt.Errorf("error resolving comment: %w", err)
			}
		} else {
			if err := comment.Unresolve(tx); err != nil {
				return fmt.Errorf("error reopening comment: %w", err)
			}
		}
		return s.recorder.Record(tx, audit.Event{
			Principal:   p,
			Action:      action,
			EntityKind:  models.EntityComment,
			EntityID:    comment.ID,
			Description: description,
			Details:     map[string]interface{}{"version_id": comment.VersionID},
			IPAddress:   ip,
			UserAgent:   ua,
		})
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// List returns a version's comments oldest first, optionally including
// resolved ones. Any authenticated principal may read.
func (s *Service) List(
	versionID uint, includeResolved bool,
) ([]models.Comment, error) {
	if _, err := s.loadVersion(versionID); err != nil {
		return nil, err
	}
	comments, err := models.FindCommentsByVersion(s.db, versionID, includeResolved)
	if err != nil {
		return nil, fmt.Errorf("error listing comments: %w", err)
	}
	return comments, nil
}

func (s *Service) loadVersion(id uint) (*models.DocumentVersion, error) {
	v, err := models.GetVersionByID(s.db, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "version not found")
		}
		return nil, fmt.Errorf("error loading version: %w", err)
	}
	return v, nil
}

func (s *Service) loadComment(id uint) (*models.Comment, error) {
	c := &models.Comment{ID: id}
	if err := c.Get(s.db); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errcode.New(errcode.NotFound, "comment not found")
		}
		return nil, fmt.Errorf("error loading comment: %w", err)
	}
	return c, nil
}
