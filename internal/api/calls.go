package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/speaklink/internal/identity"
	"github.com/go-chi/chi/v5"
)

const (
	maxCallsLimit = 200
	healthTimeout = 2 * time.Second
)

// RegisterRoutes registers the API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/config", h.GetConfig)
		r.Get("/online-users", h.OnlineUsers)
		r.Get("/calls", h.ListCalls)
	})
}

// Health reports database reachability and live session counts.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		Error(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"sessions":     h.sessions.Count(),
		"online_users": len(h.presence.ListAll()),
		"inference":    h.sidecarStatus(ctx),
	})
}

// sidecarStatus is informational; an unavailable sidecar only disables
// the accessibility path.
func (h *Handler) sidecarStatus(ctx context.Context) string {
	if h.sidecar == nil {
		return "disabled"
	}
	if err := h.sidecar.Health(ctx); err != nil {
		slog.Warn("Inference health check failed", "error", err)
		return "unavailable"
	}
	return "serving"
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, h.client)
}

// onlineUser is the public view of a presence entry. Session ids stay
// on the WebSocket.
type onlineUser struct {
	UserID          string  `json:"user_id"`
	Name            string  `json:"name"`
	IsDeaf          bool    `json:"isDeaf"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// OnlineUsers returns the presence snapshot without session ids.
func (h *Handler) OnlineUsers(w http.ResponseWriter, _ *http.Request) {
	entries := h.presence.ListAll()
	out := make([]onlineUser, 0, len(entries))
	for _, e := range entries {
		out = append(out, onlineUser{
			UserID:          e.UserID,
			Name:            e.Name,
			IsDeaf:          e.IsDeaf,
			ProfileImageURL: e.ProfileImageURL,
		})
	}
	JSON(w, http.StatusOK, out)
}

// ListCalls returns a user's call history, newest first. With a verified
// identity on the request, only that user's history is visible; when
// verified identities are required, anonymous requests are refused.
func (h *Handler) ListCalls(w http.ResponseWriter, r *http.Request) {
	verified := identity.UserIDFromContext(r.Context())
	userID := r.URL.Query().Get("user_id")

	switch {
	case verified == "" && h.client.RequireVerified:
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	case userID == "" && verified == "":
		Error(w, http.StatusBadRequest, "user_id is required")
		return
	case userID == "":
		userID = verified
	case verified != "" && userID != verified:
		slog.Warn("Call history request for another user", "verified_user_id", verified, "user_id", userID)
		Error(w, http.StatusForbidden, "forbidden")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxCallsLimit)
	}

	records, err := h.repo.ListCallRecords(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list call records", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to load call history")
		return
	}

	JSON(w, http.StatusOK, records)
}
