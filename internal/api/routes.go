package api

import (
	"net/http"

	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/pkg/models"
)

// NewMux builds the HTTP routing table. Login, the session probe, and
// the health check are open; everything else sits behind RequireAuth.
func NewMux(srv server.Server) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/health", HealthHandler(srv))
	mux.Handle("/api/v1/auth/login", LoginHandler(srv))
	mux.Handle("/api/v1/auth/session", SessionHandler(srv))

	authed := func(h http.Handler) http.Handler {
		return RequireAuth(srv, h)
	}

	mux.Handle("/api/v1/auth/logout", authed(LogoutHandler(srv)))
	mux.Handle("/api/v1/auth/esign-verify", authed(ESignVerifyHandler(srv)))

	mux.Handle("/api/v1/documents", authed(DocumentsHandler(srv)))
	mux.Handle("/api/v1/documents/{id}", authed(DocumentHandler(srv)))
	mux.Handle("/api/v1/documents/{id}/versions",
		authed(DocumentVersionsHandler(srv)))
	mux.Handle("/api/v1/documents/{id}/versions/{vid}",
		authed(DocumentVersionHandler(srv)))
	mux.Handle("/api/v1/documents/{id}/attachments",
		authed(DocumentAttachmentsHandler(srv)))
	mux.Handle("/api/v1/documents/{id}/audit",
		authed(EntityAuditHandler(srv, models.EntityDocument)))

	mux.Handle("/api/v1/versions/{vid}", authed(VersionHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/content",
		authed(VersionContentHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/submit", authed(SubmitHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/approve-review",
		authed(ApproveReviewHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/request-changes",
		authed(RequestChangesHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/approve", authed(ApproveHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/reject", authed(RejectHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/publish", authed(PublishHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/archive", authed(ArchiveHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/lock", authed(LockHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/lock/heartbeat",
		authed(LockHeartbeatHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/comments",
		authed(VersionCommentsHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/attachments",
		authed(VersionAttachmentsHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/export/docx",
		authed(VersionExportHandler(srv)))
	mux.Handle("/api/v1/versions/{vid}/audit",
		authed(EntityAuditHandler(srv, models.EntityVersion)))

	mux.Handle("/api/v1/comments/{cid}", authed(CommentHandler(srv)))
	mux.Handle("/api/v1/comments/{cid}/resolve",
		authed(CommentResolveHandler(srv, true)))
	mux.Handle("/api/v1/comments/{cid}/unresolve",
		authed(CommentResolveHandler(srv, false)))

	mux.Handle("/api/v1/attachments", authed(AttachmentsHandler(srv)))
	mux.Handle("/api/v1/attachments/{id}", authed(AttachmentHandler(srv)))
	mux.Handle("/api/v1/attachments/{id}/download",
		authed(AttachmentDownloadHandler(srv)))

	mux.Handle("/api/v1/tasks", authed(TasksHandler(srv)))

	mux.Handle("/api/v1/audit", authed(AuditHandler(srv)))
	mux.Handle("/api/v1/audit/esignatures",
		authed(ESignatureReportHandler(srv)))

	return mux
}
