package middleware

import (
	"context"
	"encoding/json"
	"net/http"
)

const adminIDKey contextKey = "admin_id"

// AdminIdentity reads the X-Admin-ID header set by the authenticating
// gateway and stores it on the context. It performs no verification of its
// own; the header is trusted infrastructure input.
func AdminIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Admin-ID"); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), adminIDKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests that arrived without an admin identity.
// Mount it on operator-only route groups.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if AdminIDFromContext(r.Context()) == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":   "unauthorized",
				"message": "missing X-Admin-ID header",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func AdminIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(adminIDKey).(string); ok {
		return v
	}
	return ""
}
