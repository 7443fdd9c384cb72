// Package api provides the relay's read-only HTTP endpoints.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/speaklink/internal/domain"
	"github.com/ashureev/speaklink/internal/store"
)

// PresenceLister exposes the current online-user snapshot.
type PresenceLister interface {
	ListAll() []domain.PresenceEntry
}

// SessionCounter reports the number of open WebSocket sessions.
type SessionCounter interface {
	Count() int
}

// HealthChecker reports whether an optional dependency is serving.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// ClientConfig is what the frontend needs to know about the server.
type ClientConfig struct {
	AccessibilityEnabled bool    `json:"accessibility_enabled"`
	SignCooldownSeconds  float64 `json:"sign_cooldown_seconds"`
	RequireVerified      bool    `json:"require_verified_identity"`
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	presence PresenceLister
	sessions SessionCounter
	sidecar  HealthChecker
	client   ClientConfig
}

// NewHandler creates a new Handler with common dependencies. sidecar may be
// nil when accessibility features are disabled.
func NewHandler(repo store.Repository, presence PresenceLister, sessions SessionCounter, sidecar HealthChecker, client ClientConfig) *Handler {
	return &Handler{
		repo:     repo,
		presence: presence,
		sessions: sessions,
		sidecar:  sidecar,
		client:   client,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
