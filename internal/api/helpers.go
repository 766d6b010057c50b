// Package api maps the service operations onto the HTTP+JSON surface.
// Handlers are thin: decode, call the service, encode. Capability and
// state checks live in the services; the only check done here is bearer
// authentication in the middleware.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/provenworks/sopctl/pkg/errcode"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

// statusForCode maps the error taxonomy onto HTTP statuses. Unknown
// errors and invariant violations are 5xx; everything else is the
// caller's fault.
func statusForCode(code errcode.Code) int {
	switch code {
	case errcode.InvalidCredentials, errcode.SessionSuperseded:
		return http.StatusUnauthorized
	case errcode.Deactivated, errcode.ESignatureMismatch,
		errcode.PermissionDenied:
		return http.StatusForbidden
	case errcode.NotFound:
		return http.StatusNotFound
	case errcode.SessionConflict, errcode.AlreadyExists,
		errcode.IllegalTransition, errcode.IllegalStatus, errcode.Conflict:
		return http.StatusConflict
	case errcode.Locked, errcode.LockNotHeld, errcode.LockExpired:
		return http.StatusLocked
	case errcode.ValidationError:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the error envelope. Coded errors keep their code
// and details; anything else is surfaced as an opaque 500.
func respondError(w http.ResponseWriter, log hclog.Logger, r *http.Request, err error) {
	var coded *errcode.Error
	if !errors.As(err, &coded) {
		log.Error("internal error",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		coded = errcode.New(errcode.Code("INTERNAL"), "internal server error")
		respondJSON(w, http.StatusInternalServerError, errEnvelope(coded))
		return
	}

	status := statusForCode(coded.Code)
	if status >= 500 {
		log.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", coded.Code,
			"error", err,
		)
	} else {
		log.Debug("request rejected",
			"method", r.Method,
			"path", r.URL.Path,
			"code", coded.Code,
		)
	}
	respondJSON(w, status, errEnvelope(coded))
}

func errEnvelope(e *errcode.Error) errorBody {
	var body errorBody
	body.Error.Code = string(e.Code)
	body.Error.Message = e.Message
	body.Error.Details = e.Details
	return body
}

// respondJSON writes v as the JSON response body.
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// decodeRequest parses the JSON body into v. Unknown fields are a
// validation error, not silently ignored.
func decodeRequest(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errcode.Wrap(errcode.ValidationError, "invalid request body", err)
	}
	return nil
}

// pathID parses the named path wildcard as an unsigned id.
func pathID(r *http.Request, name string) (uint, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, errcode.Newf(errcode.ValidationError,
			"invalid %s: %q", name, raw)
	}
	return uint(id), nil
}

// queryInt parses an optional integer query parameter, zero when absent.
func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// methodNotAllowed rejects a method the route does not serve.
func methodNotAllowed(w http.ResponseWriter) {
	respondJSON(w, http.StatusMethodNotAllowed, errEnvelope(
		errcode.New(errcode.ValidationError, "method not allowed")))
}

// clientIP extracts the caller address for audit metadata, preferring
// the first hop of X-Forwarded-For when a proxy set it.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestMeta returns the audit request metadata pair.
func requestMeta(r *http.Request) (ip, userAgent string) {
	ua := r.UserAgent()
	if len(ua) > 255 {
		ua = ua[:255]
	}
	return clientIP(r), ua
}
