package api

import (
	"net/http"

	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/internal/version"
)

// HealthHandler reports liveness and database reachability. It is not
// authenticated; load balancers call it.
func HealthHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}

		status := "ok"
		code := http.StatusOK

		sqlDB, err := srv.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(r.Context())
		}
		if err != nil {
			log.Error("health check database ping failed", "error", err)
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		respondJSON(w, code, map[string]string{
			"status":  status,
			"version": version.Version,
		})
	})
}
