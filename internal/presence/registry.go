// Package presence tracks which users are currently reachable and through which session.
package presence

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/speaklink/internal/domain"
)

// ChangeFunc receives a full snapshot after every presence change.
type ChangeFunc func(snapshot []domain.PresenceEntry)

// Registry maps user IDs to their live session and keeps a reverse
// session index in step with it.
type Registry struct {
	mu        sync.RWMutex
	byUser    map[string]domain.PresenceEntry
	bySession map[string]string
	version   uint64

	// notifyMu orders hook calls; a snapshot older than the last one
	// delivered is skipped.
	notifyMu  sync.Mutex
	delivered uint64
	onChange  ChangeFunc
}

// NewRegistry creates an empty registry. onChange may be nil.
func NewRegistry(onChange ChangeFunc) *Registry {
	return &Registry{
		byUser:    make(map[string]domain.PresenceEntry),
		bySession: make(map[string]string),
		onChange:  onChange,
	}
}

// Announce inserts or replaces the entry for entry.UserID. The last
// announce wins: a previous session bound to the same user loses its
// reverse lookup, and a user previously bound to the same session is removed.
func (r *Registry) Announce(entry domain.PresenceEntry) {
	r.mu.Lock()
	if prev, ok := r.byUser[entry.UserID]; ok && prev.SessionID != entry.SessionID {
		delete(r.bySession, prev.SessionID)
		slog.Info("Presence rebound to new session",
			"user_id", entry.UserID,
			"old_session_id", prev.SessionID,
			"session_id", entry.SessionID)
	}
	if prevUser, ok := r.bySession[entry.SessionID]; ok && prevUser != entry.UserID {
		delete(r.byUser, prevUser)
		slog.Info("Session switched user identity",
			"session_id", entry.SessionID,
			"old_user_id", prevUser,
			"user_id", entry.UserID)
	}
	r.byUser[entry.UserID] = entry
	r.bySession[entry.SessionID] = entry.UserID
	version, snapshot := r.changedLocked()
	r.mu.Unlock()

	r.notify(version, snapshot)
}

// Resolve returns the entry for userID.
func (r *Registry) Resolve(userID string) (domain.PresenceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byUser[userID]
	return entry, ok
}

// FindBySession returns the user currently bound to sessionID.
func (r *Registry) FindBySession(sessionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.bySession[sessionID]
	return userID, ok
}

// RemoveBySession removes the entry owned by sessionID and returns its user ID.
// A session that never announced is not an error.
func (r *Registry) RemoveBySession(sessionID string) (string, bool) {
	r.mu.Lock()
	userID, ok := r.bySession[sessionID]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	delete(r.bySession, sessionID)
	if entry, exists := r.byUser[userID]; exists && entry.SessionID == sessionID {
		delete(r.byUser, userID)
	}
	version, snapshot := r.changedLocked()
	r.mu.Unlock()

	r.notify(version, snapshot)
	return userID, true
}

// ListAll returns a snapshot of all entries ordered by user ID.
func (r *Registry) ListAll() []domain.PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

// Len returns the number of online users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

func (r *Registry) snapshotLocked() []domain.PresenceEntry {
	out := make([]domain.PresenceEntry, 0, len(r.byUser))
	for _, entry := range r.byUser {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) changedLocked() (uint64, []domain.PresenceEntry) {
	r.version++
	return r.version, r.snapshotLocked()
}

func (r *Registry) notify(version uint64, snapshot []domain.PresenceEntry) {
	if r.onChange == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if version <= r.delivered {
		return
	}
	r.delivered = version
	r.onChange(snapshot)
}
