package api

import (
	"net/http"

	"github.com/provenworks/sopctl/internal/server"
)

// TasksHandler lists the caller's pending work, ordered by priority.
func TasksHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		p := principalFromContext(r.Context())
		list, err := srv.Tasks.PendingTasks(p)
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
	})
}
