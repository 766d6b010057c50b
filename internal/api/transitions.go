package api

import (
	"net/http"

	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/internal/workflow"
	"github.com/provenworks/sopctl/pkg/models"
)

// transitionRequest is the shared body of the signed lifecycle
// endpoints. Password is the re-entered credential for the e-signature.
type transitionRequest struct {
	Password string `json:"password"`
	Comment  string `json:"comment,omitempty"`
}

// transitionFunc adapts one workflow transition method.
type transitionFunc func(
	p *models.Principal, in workflow.TransitionInput,
) (*models.DocumentVersion, error)

// transitionHandler serves one signed lifecycle move on a version.
func transitionHandler(srv server.Server, fn transitionFunc) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		vid, err := pathID(r, "vid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		var req transitionRequest
		if err := decodeRequest(r, &req); err != nil {
			respondError(w, log, r, err)
			return
		}

		p := principalFromContext(r.Context())
		ip, ua := requestMeta(r)
		version, err := fn(p, workflow.TransitionInput{
			VersionID: vid,
			Password:  req.Password,
			Comment:   req.Comment,
			IPAddress: ip,
			UserAgent: ua,
		})
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, version)
	})
}

// SubmitHandler moves a Draft to Under Review.
func SubmitHandler(srv server.Server) http.Handler {
	return transitionHandler(srv, srv.Workflow.Submit)
}

// ApproveReviewHandler moves Under Review to Pending Approval.
func ApproveReviewHandler(srv server.Server) http.Handler {
	return transitionHandler(srv, srv.Workflow.ApproveReview)
}

// RequestChangesHandler sends Under Review back to Draft.
func RequestChangesHandler(srv server.Server) http.Handler {
	return transitionHandler(srv, srv.Workflow.RequestChanges)
}

// ApproveHandler moves Pending Approval to Approved.
func ApproveHandler(srv server.Server) http.Handler {
	return transitionHandler(srv, srv.Workflow.Approve)
}

// RejectHandler sends Pending Approval back to Draft.
func RejectHandler(srv server.Server) http.Handler {
	return transitionHandler(srv, srv.Workflow.Reject)
}

// ArchiveHandler retires an Effective or Obsolete version.
func ArchiveHandler(srv server.Server) http.Handler {
	return transitionHandler(srv, srv.Workflow.Archive)
}

// PublishHandler makes an Approved version Effective, obsoleting its
// predecessor in the same transaction.
func PublishHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		vid, err := pathID(r, "vid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		var req struct {
			Password      string `json:"password"`
			EffectiveDate string `json:"effectiveDate,omitempty"`
		}
		if err := decodeRequest(r, &req); err != nil {
			respondError(w, log, r, err)
			return
		}

		p := principalFromContext(r.Context())
		ip, ua := requestMeta(r)
		version, err := srv.Workflow.Publish(p, workflow.PublishInput{
			VersionID:     vid,
			Password:      req.Password,
			EffectiveDate: req.EffectiveDate,
			IPAddress:     ip,
			UserAgent:     ua,
		})
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, version)
	})
}
