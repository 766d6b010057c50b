// Package rbac answers capability questions for the four roles. Every
// handler and service asks these predicates instead of inspecting role
// names; DMS_Admin widens to every capability.
package rbac

import (
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// IsOwner reports whether the principal owns the document.
func IsOwner(p *models.Principal, doc *models.Document) bool {
	return doc.OwnerID == p.ID
}

// CanCreateDocument: Authors create documents; Admins may too.
func CanCreateDocument(p *models.Principal) bool {
	return p.IsAdmin() || p.HasRole(models.RoleAuthor)
}

// CanEditDocument gates draft mutation: metadata edits, content saves,
// lock acquisition, submitting, and creating successor versions. The
// owning Author or any Admin qualifies.
func CanEditDocument(p *models.Principal, doc *models.Document) bool {
	if p.IsAdmin() {
		return true
	}
	return p.HasRole(models.RoleAuthor) && IsOwner(p, doc)
}

// CanReview gates the Under Review stage actions (approve review,
// request changes).
func CanReview(p *models.Principal) bool {
	return p.IsAdmin() || p.HasRole(models.RoleReviewer)
}

// CanApprove gates the Pending Approval stage actions (approve, reject).
func CanApprove(p *models.Principal) bool {
	return p.IsAdmin() || p.HasRole(models.RoleApprover)
}

// CanPublish: Admin only.
func CanPublish(p *models.Principal) bool {
	return p.IsAdmin()
}

// CanArchive: Admin only.
func CanArchive(p *models.Principal) bool {
	return p.IsAdmin()
}

// CanDeleteDocument: Admin only.
func CanDeleteDocument(p *models.Principal) bool {
	return p.IsAdmin()
}

// CanComment reports whether the principal may create a comment on the
// version. Reviewers, Approvers, and Admins comment on any non-Draft
// version; on a Draft only an Admin may comment.
func CanComment(p *models.Principal, v *models.DocumentVersion) bool {
	if v.Status == models.StatusDraft {
		return p.IsAdmin()
	}
	return p.IsAdmin() ||
		p.HasRole(models.RoleReviewer) ||
		p.HasRole(models.RoleApprover)
}

// CanEditComment: the comment's author or an Admin.
func CanEditComment(p *models.Principal, c *models.Comment) bool {
	return p.IsAdmin() || c.AuthorID == p.ID
}

// CanDeleteComment: same rule as editing.
func CanDeleteComment(p *models.Principal, c *models.Comment) bool {
	return CanEditComment(p, c)
}

// CanResolveComment: any principal able to comment on the version may
// resolve or unresolve.
func CanResolveComment(p *models.Principal, v *models.DocumentVersion) bool {
	return CanComment(p, v)
}

// CanManagePrincipals gates account creation, role assignment, and
// deactivation.
func CanManagePrincipals(p *models.Principal) bool {
	return p.IsAdmin()
}

// CanReadAudit gates audit queries and the e-signature report.
func CanReadAudit(p *models.Principal) bool {
	return p.IsAdmin()
}

// CanForceReleaseLock gates releasing another principal's edit lock.
func CanForceReleaseLock(p *models.Principal) bool {
	return p.IsAdmin()
}

// Require converts a capability answer into a PERMISSION_DENIED error
// carrying the capability name for the audit trail.
func Require(ok bool, capability string) error {
	if ok {
		return nil
	}
	return errcode.New(errcode.PermissionDenied, "permission denied").
		WithDetail("capability", capability)
}
