package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/provenworks/sopctl/internal/attachments"
	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/pkg/errcode"
)

// maxUploadMemory bounds the multipart parse buffer; larger parts spill
// to disk.
const maxUploadMemory = 10 << 20

// AttachmentsHandler accepts multipart uploads. The form carries the
// file part plus documentId or versionId naming the parent.
func AttachmentsHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			respondError(w, log, r, errcode.Wrap(
				errcode.ValidationError, "invalid multipart form", err))
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()

		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, log, r, errcode.Wrap(
				errcode.ValidationError, "missing file part", err))
			return
		}
		defer file.Close()

		in := attachments.UploadInput{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Description: r.FormValue("description"),
		}
		if raw := r.FormValue("documentId"); raw != "" {
			id, err := parseFormID("documentId", raw)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			in.DocumentID = &id
		}
		if raw := r.FormValue("versionId"); raw != "" {
			id, err := parseFormID("versionId", raw)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			in.VersionID = &id
		}

		p := principalFromContext(r.Context())
		in.IPAddress, in.UserAgent = requestMeta(r)
		attachment, err := srv.Attachments.Upload(r.Context(), p, file, in)
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, attachment)
	})
}

func parseFormID(name, raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errcode.Newf(errcode.ValidationError,
			"invalid %s: %q", name, raw)
	}
	return uint(id), nil
}

// AttachmentHandler reads metadata for and deletes one attachment.
func AttachmentHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		switch r.Method {
		case http.MethodGet:
			attachment, err := srv.Attachments.Get(id)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, attachment)

		case http.MethodDelete:
			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			if err := srv.Attachments.Delete(p, id, ip, ua); err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusNoContent, nil)

		default:
			methodNotAllowed(w)
		}
	})
}

// AttachmentDownloadHandler streams the stored bytes.
func AttachmentDownloadHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		attachment, rc, err := srv.Attachments.Download(r.Context(), id)
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		defer rc.Close()

		contentType := attachment.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", attachment.Filename))
		if _, err := io.Copy(w, rc); err != nil {
			log.Error("error streaming attachment",
				"attachment_id", id, "error", err)
		}
	})
}

// DocumentAttachmentsHandler lists a document's attachments.
func DocumentAttachmentsHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		list, err := srv.Attachments.ListByDocument(id)
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK,
			map[string]interface{}{"attachments": list})
	})
}

// VersionAttachmentsHandler lists a version's attachments.
func VersionAttachmentsHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		vid, err := pathID(r, "vid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		list, err := srv.Attachments.ListByVersion(vid)
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK,
			map[string]interface{}{"attachments": list})
	})
}
