package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/provenworks/sopctl/internal/server"
	"github.com/provenworks/sopctl/pkg/errcode"
	"github.com/provenworks/sopctl/pkg/models"
)

type contextKey string

const principalContextKey contextKey = "principal"

// principalFromContext returns the authenticated principal placed on the
// request by RequireAuth.
func principalFromContext(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(principalContextKey).(*models.Principal)
	return p
}

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, prefix))
}

// RequireAuth authenticates the bearer token and attaches the principal
// to the request context. Requests without a valid live session are
// rejected before reaching the wrapped handler.
func RequireAuth(srv server.Server, next http.Handler) http.Handler {
	log := srv.Logger.Named("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, log, r, errcode.New(
				errcode.InvalidCredentials, "missing bearer token"))
			return
		}

		p, _, err := srv.Auth.Authenticate(token)
		if err != nil {
			respondError(w, log, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
