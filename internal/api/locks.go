package api

import (
	"net/http"

	"github.com/provenworks/sopctl/internal/locks"
	"github.com/provenworks/sopctl/internal/server"
)

// LockHandler serves the edit lease on a draft: status, acquire, and
// release.
func LockHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vid, err := pathID(r, "vid")
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		switch r.Method {
		case http.MethodGet:
			status, err := srv.Locks.GetStatus(vid)
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, status)

		case http.MethodPost:
			var req struct {
				TimeoutMinutes int    `json:"timeoutMinutes,omitempty"`
				SessionTag     string `json:"sessionTag,omitempty"`
			}
			if err := decodeRequest(r, &req); err != nil {
				respondError(w, log, r, err)
				return
			}

			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			grant, err := srv.Locks.Acquire(p, locks.AcquireInput{
				VersionID:      vid,
				TimeoutMinutes: req.TimeoutMinutes,
				SessionTag:     req.SessionTag,
				IPAddress:      ip,
				UserAgent:      ua,
			})
			if err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusOK, grant)

		case http.MethodDelete:
			var req struct {
				LockToken string `json:"lockToken,omitempty"`
				Force     bool   `json:"force,omitempty"`
			}
			// A body is optional on release; page-exit beacons send none.
			if r.ContentLength > 0 {
				if err := decodeRequest(r, &req); err != nil {
					respondError(w, log, r, err)
					return
				}
			}

			p := principalFromContext(r.Context())
			ip, ua := requestMeta(r)
			if err := srv.Locks.Release(
				p, vid, req.LockToken, req.Force, ip, ua,
			); err != nil {
				respondError(w, log, r, err)
				return
			}
			respondJSON(w, http.StatusNoContent, nil)

		default:
			methodNotAllowed(w)
		}
	})
}

// LockHeartbeatHandler extends an active lease.
func LockHeartbeatHandler(srv server.Server) http.Handler {
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
			LockToken     string `json:"lockToken"`
			ExtendMinutes int    `json:"extendMinutes,omitempty"`
		}
		if err := decodeRequest(r, &req); err != nil {
			respondError(w, log, r, err)
			return
		}

		p := principalFromContext(r.Context())
		grant, err := srv.Locks.Heartbeat(p, vid, req.LockToken, req.ExtendMinutes)
		if err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, grant)
	})
}
