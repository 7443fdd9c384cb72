package cooldown

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const window = 10 * time.Second

func TestShouldNotify_Scenario(t *testing.T) {
	c := New()
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, c.ShouldNotify("s1", "u2", "HELLO", t0, window), "first sighting")
	assert.False(t, c.ShouldNotify("s1", "u2", "HELLO", t0.Add(5*time.Second), window), "inside window")
	assert.True(t, c.ShouldNotify("s1", "u2", "HELLO", t0.Add(11*time.Second), window), "window expired")
	assert.True(t, c.ShouldNotify("s1", "u2", "BYE", t0.Add(11500*time.Millisecond), window), "label changed")
}

func TestShouldNotify_SuppressionIsRepeatable(t *testing.T) {
	c := New()
	t0 := time.Now()
	assert.True(t, c.ShouldNotify("s1", "u2", "HELLO", t0, window))
	for i := 1; i <= 5; i++ {
		assert.False(t, c.ShouldNotify("s1", "u2", "HELLO", t0.Add(time.Duration(i)*time.Second), window))
	}
	// Suppressed calls must not refresh the timestamp.
	assert.True(t, c.ShouldNotify("s1", "u2", "HELLO", t0.Add(window+time.Millisecond), window))
}

func TestShouldNotify_ExactWindowBoundarySuppresses(t *testing.T) {
	c := New()
	t0 := time.Now()
	c.ShouldNotify("s1", "u2", "HELLO", t0, window)
	assert.False(t, c.ShouldNotify("s1", "u2", "HELLO", t0.Add(window), window))
}

func TestShouldNotify_KeysAreIndependent(t *testing.T) {
	c := New()
	now := time.Now()
	assert.True(t, c.ShouldNotify("s1", "u2", "HELLO", now, window))
	assert.True(t, c.ShouldNotify("s1", "u3", "HELLO", now, window))
	assert.True(t, c.ShouldNotify("s2", "u2", "HELLO", now, window))
	assert.Equal(t, 3, c.Len())
}

func TestEvictSession(t *testing.T) {
	c := New()
	now := time.Now()
	c.ShouldNotify("s1", "u2", "HELLO", now, window)
	c.ShouldNotify("s1", "u3", "HELLO", now, window)
	c.ShouldNotify("s2", "u2", "HELLO", now, window)

	c.EvictSession("s1")

	assert.Equal(t, 0, c.SessionLen("s1"))
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.ShouldNotify("s1", "u2", "HELLO", now, window), "evicted key is a fresh key")

	c.EvictSession("unknown")
}

func TestShouldNotify_ConcurrentSameKey(t *testing.T) {
	t.Parallel()

	c := New()
	now := time.Now()
	var notified atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.ShouldNotify("s1", "u2", "HELLO", now, window) {
				notified.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), notified.Load(), "check-and-update must be atomic")
}

func TestShouldNotify_ConcurrentEviction(t *testing.T) {
	t.Parallel()

	c := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			session := "s" + strconv.Itoa(w)
			for i := 0; i < 200; i++ {
				c.ShouldNotify(session, "u"+strconv.Itoa(i%5), "L"+strconv.Itoa(i%3), time.Now(), window)
				if i%50 == 0 {
					c.EvictSession(session)
				}
			}
			c.EvictSession(session)
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 0, c.Len())
}
