package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const AdminContextKey contextKey = "admin"

// AuthMiddleware guards mutating endpoints with the shared admin key.
// Clients send the key in the X-Queue-Key header; only its bcrypt hash is
// held in memory.
type AuthMiddleware struct {
	keyHash []byte
}

// NewAuthMiddleware creates an auth middleware from a bcrypt key hash.
// An empty hash disables admin auth entirely (development mode).
func NewAuthMiddleware(keyHash string) *AuthMiddleware {
	return &AuthMiddleware{keyHash: []byte(keyHash)}
}

// Enabled reports whether a key is configured.
func (m *AuthMiddleware) Enabled() bool {
	return len(m.keyHash) > 0
}

// RequireAdmin verifies the admin key on requests.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			ctx := context.WithValue(r.Context(), AdminContextKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		key := r.Header.Get("X-Queue-Key")
		if key == "" {
			jsonError(w, http.StatusUnauthorized, "missing admin key")
			return
		}

		if err := bcrypt.CompareHashAndPassword(m.keyHash, []byte(key)); err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid admin key")
			return
		}

		ctx := context.WithValue(r.Context(), AdminContextKey, true)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// IsAdmin reports whether the request passed admin auth.
func IsAdmin(ctx context.Context) bool {
	admin, ok := ctx.Value(AdminContextKey).(bool)
	return ok && admin
}
