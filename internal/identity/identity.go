// Package identity carries the verified user identity supplied by the
// upstream auth layer into request contexts.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
)

const (
	// VerifiedUserHeader is set by the authenticating proxy in front of the relay.
	VerifiedUserHeader = "X-Authenticated-User-ID"
	// VerifiedUserQuery is accepted for browser WebSocket clients that cannot set headers.
	VerifiedUserQuery = "verified_user_id"
)

type contextKey int

const (
	userIDKey contextKey = iota
)

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// UserIDFromContext extracts the verified user ID from the request context.
// It returns an empty string when the request carried none.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func sanitizeUserID(id string) string {
	id = strings.TrimSpace(id)
	if !userIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func userIDFromRequest(r *http.Request, trustQuery bool) string {
	id := r.Header.Get(VerifiedUserHeader)
	if id == "" && trustQuery {
		id = r.URL.Query().Get(VerifiedUserQuery)
	}
	return sanitizeUserID(id)
}

// Middleware injects the verified identity, if any, into the request context.
// The query parameter fallback is only honoured when trustQuery is set,
// which should be limited to development.
func Middleware(trustQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userIDFromRequest(r, trustQuery)
			if userID == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
