package presence

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/speaklink/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(userID, sessionID string) domain.PresenceEntry {
	return domain.PresenceEntry{UserID: userID, SessionID: sessionID, Name: "name-" + userID}
}

func TestRegistry_AnnounceAndResolve(t *testing.T) {
	r := NewRegistry(nil)
	r.Announce(entry("u1", "s1"))

	got, ok := r.Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, "s1", got.SessionID)

	userID, ok := r.FindBySession("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", userID)

	_, ok = r.Resolve("ghost")
	assert.False(t, ok)
}

func TestRegistry_LastAnnounceWins(t *testing.T) {
	r := NewRegistry(nil)
	r.Announce(entry("u1", "s1"))
	r.Announce(entry("u1", "s2"))

	got, ok := r.Resolve("u1")
	require.True(t, ok)
	assert.Equal(t, "s2", got.SessionID)

	_, ok = r.FindBySession("s1")
	assert.False(t, ok, "stale session must not resolve to the rebound user")

	// The stale session disconnecting must not evict the live binding.
	_, removed := r.RemoveBySession("s1")
	assert.False(t, removed)
	_, ok = r.Resolve("u1")
	assert.True(t, ok)
}

func TestRegistry_SessionSwitchesUser(t *testing.T) {
	r := NewRegistry(nil)
	r.Announce(entry("u1", "s1"))
	r.Announce(entry("u2", "s1"))

	_, ok := r.Resolve("u1")
	assert.False(t, ok)
	userID, ok := r.FindBySession("s1")
	require.True(t, ok)
	assert.Equal(t, "u2", userID)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RemoveBySession(t *testing.T) {
	r := NewRegistry(nil)
	r.Announce(entry("u1", "s1"))
	r.Announce(entry("u2", "s2"))

	userID, ok := r.RemoveBySession("s1")
	require.True(t, ok)
	assert.Equal(t, "u1", userID)

	_, ok = r.FindBySession("s1")
	assert.False(t, ok)
	for _, e := range r.ListAll() {
		assert.NotEqual(t, "u1", e.UserID)
	}

	_, ok = r.RemoveBySession("never-announced")
	assert.False(t, ok)
}

func TestRegistry_ChangeHook(t *testing.T) {
	var snapshots [][]domain.PresenceEntry
	r := NewRegistry(func(s []domain.PresenceEntry) {
		snapshots = append(snapshots, s)
	})

	r.Announce(entry("u2", "s2"))
	r.Announce(entry("u1", "s1"))
	r.RemoveBySession("missing")
	r.RemoveBySession("s2")

	require.Len(t, snapshots, 3, "unknown session removal must not broadcast")
	assert.Len(t, snapshots[1], 2)
	assert.Equal(t, "u1", snapshots[1][0].UserID, "snapshot is ordered by user id")
	assert.Equal(t, []domain.PresenceEntry{entry("u1", "s1")}, snapshots[2])
}

func TestRegistry_SlowHookNeverLeavesStaleSnapshot(t *testing.T) {
	var (
		mu      sync.Mutex
		calls   int
		last    []domain.PresenceEntry
		entered = make(chan struct{})
		release = make(chan struct{})
	)
	r := NewRegistry(func(s []domain.PresenceEntry) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		mu.Lock()
		last = s
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Announce(entry("u1", "s1"))
	}()
	<-entered
	go func() {
		defer wg.Done()
		r.Announce(entry("u2", "s2"))
	}()
	// Give the second announce time to reach its hook call.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, last, 2, "last delivered snapshot must reflect the latest change")
}

func TestRegistry_ConcurrentInvariants(t *testing.T) {
	t.Parallel()

	r := NewRegistry(nil)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				userID := "u" + strconv.Itoa(i%10)
				sessionID := "s" + strconv.Itoa(w) + "-" + strconv.Itoa(i%7)
				if i%3 == 0 {
					r.RemoveBySession(sessionID)
					continue
				}
				r.Announce(entry(userID, sessionID))
			}
		}(w)
	}
	wg.Wait()

	seenUsers := map[string]bool{}
	seenSessions := map[string]bool{}
	for _, e := range r.ListAll() {
		assert.False(t, seenUsers[e.UserID], "duplicate user %s", e.UserID)
		assert.False(t, seenSessions[e.SessionID], "duplicate session %s", e.SessionID)
		seenUsers[e.UserID] = true
		seenSessions[e.SessionID] = true

		userID, ok := r.FindBySession(e.SessionID)
		require.True(t, ok)
		assert.Equal(t, e.UserID, userID)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	assert.Len(t, r.bySession, len(r.byUser), "reverse index out of step")
}
