package api

import (
	"fmt"
	"net/http"

	"github.com/provenworks/sopctl/internal/server"
)

// VersionExportHandler renders a version to DOCX and streams the
// result.
func VersionExportHandler(srv server.Server) http.Handler {
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

		p := principalFromContext(r.Context())
		ip, ua := requestMeta(r)
		result, err := srv.Export.ExportDocx(r.Context(), p, vid, ip, ua)
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		w.Header().Set("Content-Type",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=%q", result.Filename))
		w.Header().Set("Content-Length", fmt.Sprint(len(result.Bytes)))
		_, _ = w.Write(result.Bytes)
	})
}
