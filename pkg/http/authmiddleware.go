// Package http provides HTTP middleware for the bootcamp API.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/txn2/devops-bootcamp/pkg/auth"
)

// ExtractToken returns the Bearer token, falling back to X-API-Key.
func ExtractToken(r *http.Request) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	return r.Header.Get("X-API-Key")
}

// AuthMiddleware extracts the caller's token into the request context and,
// when an authenticator is configured, resolves it to a user.
//
// Requests without a token pass through anonymously unless requireAuth is
// set; handlers decide which routes need a user. A token that fails
// authentication is always rejected with 401.
func AuthMiddleware(authenticator auth.Authenticator, requireAuth bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				if requireAuth {
					unauthorized(w, "missing authentication token")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			ctx := auth.WithToken(r.Context(), token)
			if authenticator != nil {
				user, err := authenticator.Authenticate(ctx)
				if err != nil {
					slog.Debug("authentication failed", "path", r.URL.Path, "error", err)
					unauthorized(w, "invalid authentication token")
					return
				}
				ctx = auth.WithUser(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth returns middleware that rejects anonymous requests.
func RequireAuth(authenticator auth.Authenticator) func(http.Handler) http.Handler {
	return AuthMiddleware(authenticator, true)
}

// OptionalAuth returns middleware that allows anonymous requests.
func OptionalAuth(authenticator auth.Authenticator) func(http.Handler) http.Handler {
	return AuthMiddleware(authenticator, false)
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
