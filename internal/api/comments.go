package api

import (
	"net/http"

	"github.com/provenworks/sopctl/internal/comments"
	"github.com/provenworks/sopctl/internal/server"
)

// VersionCommentsHandler lists and creates comments on a version.
func VersionCommentsHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vid, err := pathID(r, "vid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		switch r.Method {
		case http.MethodGet:
			list, err := srv.Comments.List(vid, queryBool(r, "includeResolved"))
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK,
				map[string]interface{}{"comments": list})

		case http.MethodPost:
			var req struct {
				Body   string          `json:"body"`
				Anchor comments.Anchor `json:"anchor,omitempty"`
			}
			if err := decodeRequest(r, &req); err != nil {
				respondError(w, log, r, err)
				return
			}

			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			comment, err := srv.Comments.Create(p, comments.CreateInput{
				VersionID: vid,
				Body:      req.Body,
				Anchor:    req.Anchor,
				IPAddress: ip,
				UserAgent: ua,
			})
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusCreated, comment)

		default:
			methodNotAllowed(w)
		}
	})
}

// CommentHandler edits and deletes one comment.
func CommentHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid, err := pathID(r, "cid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		p := principalFromContext(r.Context())
		ip, ua := requestMeta(r)

		switch r.Method {
		case http.MethodPatch:
			var req struct {
				Body string `json:"body"`
			}
			if err := decodeRequest(r, &req); err != nil {
				respondError(w, log, r, err)
				return
			}
			comment, err := srv.Comments.Edit(p, cid, req.Body, ip, ua)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, comment)

		case http.MethodDelete:
			if err := srv.Comments.Delete(p, cid, ip, ua); err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusNoContent, nil)

		default:
			methodNotAllowed(w)
		}
	})
}

// CommentResolveHandler resolves or reopens a comment depending on the
// path suffix it is registered under.
func CommentResolveHandler(srv server.Server, resolved bool) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		cid, err := pathID(r, "cid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		p := principalFromContext(r.Context())
		ip, ua := requestMeta(r)

		var comment interface{}
		if resolved {
			comment, err = srv.Comments.Resolve(p, cid, ip, ua)
		} else {
			comment, err = srv.Comments.Unresolve(p, cid, ip, ua)
		}
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, comment)
	})
}
