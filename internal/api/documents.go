package api

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/provenworks/sopctl/internal/docs"
	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/internal/workflow"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

// DocumentsHandler serves the document collection: listing and
// creation.
func DocumentsHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			page, err := srv.Docs.ListDocuments(docs.ListInput{
				DepartmentCode: q.Get("department"),
				OwnerID:        uint(queryInt(r, "ownerId")),
				Status:         q.Get("status"),
				TitleContains:  q.Get("title"),
				Tag:            q.Get("tag"),
				SortBy:         q.Get("sortBy"),
				SortDesc:       queryBool(r, "sortDesc"),
				Offset:         queryInt(r, "offset"),
				Limit:          queryInt(r, "limit"),
			})
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, page)

		case http.MethodPost:
			var req struct {
				Title              string   `json:"title"`
				Description        string   `json:"description"`
				DepartmentCode     string   `json:"departmentCode"`
				DocumentNumber     string   `json:"documentNumber"`
				Tags               []string `json:"tags"`
				CreateInitialDraft bool     `json:"createInitialDraft"`
				InitialContent     string   `json:"initialContent"`
			}
			if err := decodeRequest(r, &req); err != nil {
				respondError(w, log, r, err)
				return
			}

			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			doc, err := srv.Workflow.CreateDocument(p, workflow.CreateDocumentInput{
				Title:              req.Title,
				Description:        req.Description,
				DepartmentCode:     req.DepartmentCode,
				DocumentNumber:     req.DocumentNumber,
				Tags:               req.Tags,
				CreateInitialDraft: req.CreateInitialDraft,
				InitialContent:     req.InitialContent,
				IPAddress:          ip,
				UserAgent:          ua,
			})
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusCreated, doc)

		default:
			methodNotAllowed(w)
		}
	})
}

// DocumentHandler serves one document: read, metadata patch, and
// soft delete.
func DocumentHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		switch r.Method {
		case http.MethodGet:
			doc, err := srv.Docs.GetDocument(id)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, doc)

		case http.MethodPatch:
			var patch docs.MetadataPatch
			if err := decodeRequest(r, &patch); err != nil {
				respondError(w, log, r, err)
				return
			}

			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			doc, err := srv.Docs.UpdateDocumentMetadata(p, id, patch, ip, ua)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, doc)

		case http.MethodDelete:
			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			if err := srv.Docs.SoftDeleteDocument(p, id, ip, ua); err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusNoContent, nil)

		default:
			methodNotAllowed(w)
		}
	})
}

// DocumentVersionsHandler lists a document's versions and creates the
// next controlled revision.
func DocumentVersionsHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		switch r.Method {
		case http.MethodGet:
			if _, err := srv.Docs.GetDocument(id); err != nil {
				respondError(w, log, r, err)
				return
			}
			versions, err := models.FindVersionsByDocument(srv.DB, id)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK,
				map[string]interface{}{"versions": versions})

		case http.MethodPost:
			var req struct {
				ParentVersionID uint   `json:"parentVersionId"`
				ChangeType      string `json:"changeType"`
				ChangeReason    string `json:"changeReason"`
			}
			if err := decodeRequest(r, &req); err != nil {
				respondError(w, log, r, err)
				return
			}

			// Default to revising the currently effective version.
			if req.ParentVersionID == 0 {
				effective, err := models.GetEffectiveVersion(srv.DB, id)
				if err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						respondError(w, log, r, errcode.New(errcode.NotFound,
							"document has no effective version"))
						return
					}
					respondError(w, log, r, err)
					return
				}
				req.ParentVersionID = effective.ID
			} else {
				parent, err := models.GetVersionByID(srv.DB, req.ParentVersionID)
				if err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						respondError(w, log, r, errcode.New(
							errcode.NotFound, "parent version not found"))
						return
					}
					respondError(w, log, r, err)
					return
				}
				if parent.DocumentID != id {
					respondError(w, log, r, errcode.New(errcode.ValidationError,
						"parent version belongs to a different document"))
					return
				}
			}

			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			version, err := srv.Workflow.CreateNextVersion(p, workflow.NextVersionInput{
				ParentVersionID: req.ParentVersionID,
				ChangeType:      models.ChangeType(req.ChangeType),
				ChangeReason:    req.ChangeReason,
				IPAddress:       ip,
				UserAgent:       ua,
			})
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusCreated, version)

		default:
			methodNotAllowed(w)
		}
	})
}

// DocumentVersionHandler reads one version scoped to its document.
func DocumentVersionHandler(srv server.Server) http.Handler {
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
		vid, err := pathID(r, "vid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		version, err := srv.Docs.GetVersion(id, vid)
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, version)
	})
}
