package api

import (
	"net/http"

	"github.com/provenworks/sopctl/internal/auth"
	"github.com/provenworks/sopctl/internal/server"
)

// LoginHandler issues a bearer token for valid credentials. Unlike the
// rest of the API it is not behind RequireAuth.
func LoginHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
			Force    bool   `json:"force"`
		}
		if err := decodeRequest(r, &req); err != nil {
			respondError(w, log, r, err)
			return
		}

		ip, ua := requestMeta(r)
		session, err := srv.Auth.Login(auth.LoginInput{
			Username:  req.Username,
			Password:  req.Password,
			Force:     req.Force,
			IPAddress: ip,
			UserAgent: ua,
		})
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		respondJSON(w, http.StatusOK, session)
	})
}

// LogoutHandler ends the caller's active session.
func LogoutHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		p := principalFromContext(r.Context())
		ip, ua := requestMeta(r)
		if err := srv.Auth.Logout(p, ip, ua); err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusNoContent, nil)
	})
}

// SessionHandler is the polling probe clients call to learn whether
// their session is still live. It answers 200 for any token; the body
// carries validity and the reason when the session is gone. Not behind
// RequireAuth so a superseded client still gets its reason.
func SessionHandler(srv server.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		result := srv.Auth.ValidateSession(bearerToken(r))
		respondJSON(w, http.StatusOK, result)
	})
}

// ESignVerifyHandler lets a client pre-check a credential before
// submitting a signed transition. The check itself mutates nothing;
// failures are recorded in the audit trail like any signature mismatch.
func ESignVerifyHandler(srv server.Server) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		var req struct {
			Password string `json:"password"`
			Meaning  string `json:"meaning"`
		}
		if err := decodeRequest(r, &req); err != nil {
			respondError(w, log, r, err)
			return
		}

		p := principalFromContext(r.Context())
		ip, ua := requestMeta(r)
		if err := srv.Auth.VerifyESignature(
			p, req.Password, req.Meaning, ip, ua,
		); err != nil {
			respondError(w, log, r, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]bool{"verified": true})
	})
}
