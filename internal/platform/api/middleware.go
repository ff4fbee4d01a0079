package api

import (
	"crypto/subtle"
	"net/http"
)

// WebhookAuth enforces the shared-secret header required on inbound agent
// provider webhooks. The comparison is constant-time to avoid leaking the
// secret's length/contents through timing.
func WebhookAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				WriteError(w, http.StatusServiceUnavailable, "configuration_missing", "webhook secret not configured")
				return
			}
			got := r.Header.Get("x-api-key")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid or missing x-api-key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireResetConfirmation guards the destructive /reset endpoint behind an
// explicit header matching a configured token, so a bare POST can't wipe
// queue/batch state by accident.
func RequireResetConfirmation(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Header.Get("X-Confirm-Reset") != token {
				WriteError(w, http.StatusForbidden, "forbidden", "missing or incorrect X-Confirm-Reset header")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
