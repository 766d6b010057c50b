package api

import (
	"net/http"

	"github.com/provenworks/sopctl/internal/audit"
	"github.com/provenworks/sopctl/internal/rbac"
	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/pkg/models"
)

// AuditHandler queries the audit trail. Admin only.
func AuditHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		p := principalFromContext(r.Context())
		if err := rbac.Require(
			rbac.CanReadAudit(p), "read_audit_trail"); err != nil {
			respondError(w, log, r, err)
			return
		}

		q := r.URL.Query()
		entries, total, err := audit.Query(srv.DB, audit.QueryParams{
			PrincipalID: uint(queryInt(r, "principalId")),
			Username:    q.Get("username"),
			Action:      q.Get("action"),
			EntityKind:  q.Get("entityKind"),
			EntityID:    uint(queryInt(r, "entityId")),
			ESignedOnly: queryBool(r, "esignedOnly"),
			From:        q.Get("from"),
			Until:       q.Get("until"),
			Offset:      queryInt(r, "offset"),
			Limit:       queryInt(r, "limit"),
		})
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"total":   total,
		})
	})
}

// ESignatureReportHandler lists every e-signed entry in a period,
// oldest first. Admin only.
func ESignatureReportHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		p := principalFromContext(r.Context())
		if err := rbac.Require(
			rbac.CanReadAudit(p), "read_audit_trail"); err != nil {
			respondError(w, log, r, err)
			return
		}

		q := r.URL.Query()
		records, err := audit.ESignatureReport(
			srv.DB, q.Get("from"), q.Get("until"))
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"signatures": records,
			"count":      len(records),
		})
	})
}

// EntityAuditHandler lists the trail for one entity, a convenience
// view any authenticated principal may read for documents and versions
// they can already see.
func EntityAuditHandler(srv server.Server, entityKind string) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		name := "id"
		if entityKind == models.EntityVersion {
			name = "vid"
		}
		id, err := pathID(r, name)
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		entries, total, err := audit.Query(srv.DB, audit.QueryParams{
			EntityKind: entityKind,
			EntityID:   id,
			Offset:     queryInt(r, "offset"),
			Limit:      queryInt(r, "limit"),
		})
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"entries": entries,
			"total":   total,
		})
	})
}
