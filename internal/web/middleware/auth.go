package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/libinventory/internal/config"
	"github.com/JonMunkholm/libinventory/internal/identity"
)

// APIKeyAuth returns middleware that resolves the X-API-Key header to a user
// and stores it in the request context for audit records and new entries.
//
// If RequireAPIKey is false, requests without a key pass through as
// anonymous, but a key that is sent must still be valid.
// If RequireAPIKey is true but no keys are configured, all requests are rejected.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	creds := cfg.Credentials()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				if !cfg.RequireAPIKey {
					next.ServeHTTP(w, r)
					return
				}
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			user, ok := lookupAPIKey(apiKey, creds)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			next.ServeHTTP(w, r.WithContext(identity.WithUser(r.Context(), user)))
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","message":"` + msg + `","code":"` + code + `"}`))
}

// lookupAPIKey returns the user owning key.
// Uses constant-time comparison and checks ALL keys so the comparison time
// does not depend on which key matches (or none).
func lookupAPIKey(key string, creds map[string]string) (string, bool) {
	var user string
	found := 0
	for validKey, owner := range creds {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			user = owner
			found = 1
		}
	}
	return user, found == 1
}
