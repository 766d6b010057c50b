// Package tasks projects current version states into each principal's
// actionable queue. The feed is derived on every call; nothing here is
// stored, so it can never drift from the documents themselves.
package tasks

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/provenworks/sopctl/pkg/models"
)

// Priority ranks feed entries.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// rank orders priorities for sorting, high first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// TaskType names what the principal is expected to do.
type TaskType string

const (
	TaskEditDraft       TaskType = "edit_draft"
	TaskAddressComments TaskType = "address_comments"
	TaskReview          TaskType = "review"
	TaskApprove         TaskType = "approve"
	TaskPublish         TaskType = "publish"
)

// Task is one actionable item in a principal's feed.
type Task struct {
	Document *models.Document        `json:"document"`
	Version  *models.DocumentVersion `json:"version"`
	TaskType TaskType                `json:"taskType"`
	Priority Priority                `json:"priority"`
}

// Service derives pending-task feeds.
type Service struct {
	db  *gorm.DB
	log hclog.Logger
}

// NewService returns a task feed service.
func NewService(db *gorm.DB, log hclog.Logger) *Service {
	return &Service{
		db:  db,
		log: log.Named("tasks"),
	}
}

// PendingTasks returns the documents requiring the principal's action,
// highest priority first.
//
//   - Drafts the principal owns surface as high when unresolved review
//     comments are outstanding (on the draft or its parent), else low.
//   - Under Review surfaces to every Reviewer as high.
//   - Pending Approval surfaces to every Approver as high.
//   - Approved surfaces to Admins as medium, ready to publish.
func (s *Service) PendingTasks(p *models.Principal) ([]Task, error) {
	var tasks []Task

	if p.HasRole(models.RoleAuthor) || p.IsAdmin() {
		drafts, err := s.draftTasks(p)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, drafts...)
	}

	if p.HasRole(models.RoleReviewer) || p.IsAdmin() {
		reviews, err := s.stageTasks(models.StatusUnderReview, TaskReview, PriorityHigh)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, reviews...)
	}

	if p.HasRole(models.RoleApprover) || p.IsAdmin() {
		approvals, err := s.stageTasks(models.StatusPendingApproval, TaskApprove, PriorityHigh)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, approvals...)
	}

	if p.IsAdmin() {
		publishes, err := s.stageTasks(models.StatusApproved, TaskPublish, PriorityMedium)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, publishes...)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority.rank() < tasks[j].Priority.rank()
		}
		return tasks[i].Version.UpdatedAt.After(tasks[j].Version.UpdatedAt)
	})

	return tasks, nil
}

// draftTasks finds Draft versions on documents the principal owns and
// ranks them by outstanding review feedback.
func (s *Service) draftTasks(p *models.Principal) ([]Task, error) {
	var versions []models.DocumentVersion
	err := s.db.
		Joins("JOIN documents ON documents.id = document_versions.document_id"+
			" AND documents.deleted_at IS NULL").
		Where("document_versions.status = ? AND documents.owner_id = ?",
			models.StatusDraft, p.ID).
		Preload("Document").
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("error listing owned drafts: %w", err)
	}

	tasks := make([]Task, 0, len(versions))
	for i := range versions {
		v := &versions[i]

		feedbackIDs := []uint{v.ID}
		if v.ParentVersionID != nil {
			feedbackIDs = append(feedbackIDs, *v.ParentVersionID)
		}
		unresolved, err := models.CountUnresolvedComments(s.db, feedbackIDs)
		if err != nil {
			return nil, fmt.Errorf("error counting unresolved comments: %w", err)
		}

		task := Task{
			Document: v.Document,
			Version:  v,
			TaskType: TaskEditDraft,
			Priority: PriorityLow,
		}
		if unresolved > 0 {
			task.TaskType = TaskAddressComments
			task.Priority = PriorityHigh
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// stageTasks finds every version sitting at a workflow stage. Stage
// feeds are role-wide: any reviewer sees all documents under review.
func (s *Service) stageTasks(
	status models.VersionStatus, taskType TaskType, priority Priority,
) ([]Task, error) {
	var versions []models.DocumentVersion
	err := s.db.
		Joins("JOIN documents ON documents.id = document_versions.document_id"+
			" AND documents.deleted_at IS NULL").
		Where("document_versions.status = ?", status).
		Preload("Document").
		Find(&versions).Error
	if err != nil {
		return nil, fmt.Errorf("error listing versions in %s: %w", status, err)
	}

	tasks := make([]Task, 0, len(versions))
	for i := range versions {
		tasks = append(tasks, Task{
			Document: versions[i].Document,
			Version:  &versions[i],
			TaskType: taskType,
			Priority: priority,
		})
	}
	return tasks, nil
}
