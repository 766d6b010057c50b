package api

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/docs"
	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// VersionHandler reads a version by id and patches draft revision
// metadata.
func VersionHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vid, err := pathID(r, "vid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		switch r.Method {
		case http.MethodGet:
			version, err := models.GetVersionByID(srv.DB, vid)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					respondError(w, log, r,
						errcode.New(errcode.NotFound, "version not found"))
					return
				}
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, version)

		case http.MethodPatch:
			var patch docs.DraftPatch
			if err := decodeRequest(r, &patch); err != nil {
				respondError(w, log, r, err)
				return
			}

			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			version, err := srv.Docs.UpdateDraftMetadata(p, vid, patch, ip, ua)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, version)

		default:
			methodNotAllowed(w)
		}
	})
}

// VersionContentHandler saves draft content under the edit lock.
func VersionContentHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			methodNotAllowed(w)
			return
		}

		vid, err := pathID(r, "vid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		var req struct {
			Content      string `json:"content"`
			LockToken    string `json:"lockToken"`
			ExpectedHash string `json:"expectedHash"`
			IsAutosave   bool   `json:"isAutosave"`
		}
		if err := decodeRequest(r, &req); err != nil {
			respondError(w, log, r, err)
			return
		}

		p := principalFromContext(r.Context())
		ip, ua := requestMeta(r)
		result, err := srv.Docs.SaveContent(p, docs.SaveInput{
			VersionID:    vid,
			Content:      req.Content,
			LockToken:    req.LockToken,
			ExpectedHash: req.ExpectedHash,
			IsAutosave:   req.IsAutosave,
			IPAddress:    ip,
			UserAgent:    ua,
		})
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, result)
	})
}
