package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const adminUserKey contextKey = iota

// AdminMiddleware authenticates the bearer session token on privileged
// routes and stores the asserted admin user on the request context.
func (a *API) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or malformed token")
			return
		}
		user, err := a.admin.Authorize(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			// One generic message regardless of which check failed.
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), adminUserKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func adminFromContext(ctx context.Context) string {
	user, _ := ctx.Value(adminUserKey).(string)
	return user
}
