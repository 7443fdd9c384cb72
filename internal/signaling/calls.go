package signaling

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/speaklink/internal/domain"
)

// ErrIllegalTransition is returned when an event does not fit the pair's call state.
var ErrIllegalTransition = errors.New("illegal call transition")

type pairKey struct {
	a, b string
}

func keyFor(u1, u2 string) pairKey {
	if u1 < u2 {
		return pairKey{a: u1, b: u2}
	}
	return pairKey{a: u2, b: u1}
}

type call struct {
	caller    string
	callee    string
	state     domain.CallState
	updatedAt time.Time
}

// callTable holds the explicit state of every call in progress. A pair with
// no entry is idle; entries are removed as soon as a call ends. A call left
// ringing longer than ringTimeout is abandoned and treated as idle.
type callTable struct {
	mu          sync.Mutex
	calls       map[pairKey]*call
	byUser      map[string]map[pairKey]struct{}
	now         func() time.Time
	ringTimeout time.Duration
}

func newCallTable(now func() time.Time, ringTimeout time.Duration) *callTable {
	return &callTable{
		calls:       make(map[pairKey]*call),
		byUser:      make(map[string]map[pairKey]struct{}),
		now:         now,
		ringTimeout: ringTimeout,
	}
}

// State returns the current state for the pair.
func (t *callTable) State(u1, u2 string) domain.CallState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.lookupLocked(keyFor(u1, u2)); ok {
		return c.state
	}
	return domain.CallIdle
}

// Ring moves the pair from idle to ringing.
func (t *callTable) Ring(caller, callee string) error {
	if caller == callee {
		return fmt.Errorf("%w: %s cannot call itself", ErrIllegalTransition, caller)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	key := keyFor(caller, callee)
	if c, ok := t.lookupLocked(key); ok {
		return fmt.Errorf("%w: call already %s", ErrIllegalTransition, c.state)
	}
	t.calls[key] = &call{caller: caller, callee: callee, state: domain.CallRinging, updatedAt: t.now()}
	t.index(caller, key)
	t.index(callee, key)
	return nil
}

// Accept moves a ringing call to active. Only the callee may accept, and
// only a call placed by caller.
func (t *callTable) Accept(callee, caller string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.lookupLocked(keyFor(caller, callee))
	if !ok {
		return fmt.Errorf("%w: no ringing call from %s", ErrIllegalTransition, caller)
	}
	if c.state != domain.CallRinging {
		return fmt.Errorf("%w: call is %s", ErrIllegalTransition, c.state)
	}
	if c.callee != callee {
		return fmt.Errorf("%w: %s is not the callee", ErrIllegalTransition, callee)
	}
	c.state = domain.CallActive
	c.updatedAt = t.now()
	return nil
}

// End terminates the pair's call if its state is one of allowed.
func (t *callTable) End(u1, u2 string, allowed ...domain.CallState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := keyFor(u1, u2)
	c, ok := t.lookupLocked(key)
	if !ok {
		return fmt.Errorf("%w: no call in progress", ErrIllegalTransition)
	}
	for _, s := range allowed {
		if c.state == s {
			t.removeLocked(key)
			return nil
		}
	}
	return fmt.Errorf("%w: call is %s", ErrIllegalTransition, c.state)
}

// RequireInCall checks that the pair is ringing or active.
func (t *callTable) RequireInCall(u1, u2 string) error {
	if state := t.State(u1, u2); !state.InCall() {
		return fmt.Errorf("%w: call is %s", ErrIllegalTransition, state)
	}
	return nil
}

// DropUser ends every call userID takes part in and returns the counterparts.
func (t *callTable) DropUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.byUser[userID]
	peers := make([]string, 0, len(keys))
	for key := range keys {
		peer := key.a
		if peer == userID {
			peer = key.b
		}
		peers = append(peers, peer)
		t.removeLocked(key)
	}
	return peers
}

// Len returns the number of calls in progress.
func (t *callTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// lookupLocked returns the pair's call, dropping it first if it was
// abandoned while ringing.
func (t *callTable) lookupLocked(key pairKey) (*call, bool) {
	c, ok := t.calls[key]
	if !ok {
		return nil, false
	}
	if c.state == domain.CallRinging && t.ringTimeout > 0 && t.now().Sub(c.updatedAt) > t.ringTimeout {
		slog.Info("Ringing call abandoned", "caller_id", c.caller, "callee_id", c.callee, "rang_since", c.updatedAt)
		t.removeLocked(key)
		return nil, false
	}
	return c, true
}

func (t *callTable) index(userID string, key pairKey) {
	keys, ok := t.byUser[userID]
	if !ok {
		keys = make(map[pairKey]struct{})
		t.byUser[userID] = keys
	}
	keys[key] = struct{}{}
}

func (t *callTable) removeLocked(key pairKey) {
	delete(t.calls, key)
	for _, userID := range []string{key.a, key.b} {
		if keys, ok := t.byUser[userID]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(t.byUser, userID)
			}
		}
	}
}
