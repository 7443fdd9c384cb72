// Package domain contains core domain types for the speaklink relay.
package domain

// PresenceEntry describes a reachable user and the session currently bound to it.
// JSON names follow the client wire contract.
type PresenceEntry struct {
	UserID          string  `json:"user_id"`
	SessionID       string  `json:"socket_id"`
	Name            string  `json:"name"`
	IsDeaf          bool    `json:"isDeaf"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// Valid reports whether the entry carries the fields required to be announced.
func (p PresenceEntry) Valid() bool {
	return p.UserID != "" && p.SessionID != ""
}
