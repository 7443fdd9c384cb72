// Package middleware provides HTTP middleware for the relay's HTTP surface.
package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/ashureev/speaklink/internal/identity"
)

var allowedHeaders = strings.Join([]string{"Content-Type", identity.VerifiedUserHeader}, ", ")

// CORS returns middleware that answers cross-origin requests from the
// configured frontend origins. The relay's HTTP API is read-only.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Add("Vary", "Origin")
			}

			explicit := origin != "" && slices.Contains(allowedOrigins, origin)
			if explicit || (origin != "" && wildcard) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
				// Credentials only for explicitly listed origins.
				if explicit {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
