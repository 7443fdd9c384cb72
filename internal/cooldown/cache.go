// Package cooldown debounces repeated accessibility notifications per
// (session, target) pair.
package cooldown

import (
	"sync"
	"time"
)

type entry struct {
	label  string
	seenAt time.Time
}

// Cache stores the last notified label for each (session, target) pair.
// Entries are grouped by session so a disconnect drops them in one step.
type Cache struct {
	mu      sync.Mutex
	entries map[string]map[string]entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]map[string]entry)}
}

// ShouldNotify decides whether label may be sent from sessionID to target at now.
// A true result records {label, now} for the pair before returning.
func (c *Cache) ShouldNotify(sessionID, target, label string, now time.Time, window time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	targets := c.entries[sessionID]
	last, ok := targets[target]
	switch {
	case !ok:
	case last.label != label:
	case now.Sub(last.seenAt) > window:
	default:
		return false
	}

	if targets == nil {
		targets = make(map[string]entry)
		c.entries[sessionID] = targets
	}
	targets[target] = entry{label: label, seenAt: now}
	return true
}

// EvictSession removes every entry owned by sessionID.
func (c *Cache) EvictSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// Len returns the number of (session, target) entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, targets := range c.entries {
		n += len(targets)
	}
	return n
}

// SessionLen returns the number of entries owned by sessionID.
func (c *Cache) SessionLen(sessionID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries[sessionID])
}
