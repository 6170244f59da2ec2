package router

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	assert.Equal(t, DefaultRateLimit, rl.limit)
	assert.Equal(t, DefaultRateWindow, rl.Window())
}

func TestRateLimiter_WindowLimitAndReset(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_000, 0)}
	rl := NewRateLimiter(100, time.Minute).WithClock(clock.Now)

	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("ana@x.io"), "event %d", i+1)
	}
	assert.False(t, rl.Allow("ana@x.io"))
	assert.True(t, rl.Allow("bo@x.io"), "limits are per identity")

	clock.Advance(59 * time.Second)
	assert.False(t, rl.Allow("ana@x.io"))

	clock.Advance(time.Second)
	assert.True(t, rl.Allow("ana@x.io"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_000, 0)}
	rl := NewRateLimiter(5, time.Minute).WithClock(clock.Now)

	rl.Allow("old@x.io")
	clock.Advance(4 * time.Minute)
	rl.Allow("fresh@x.io")
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, rl.Cleanup(5*time.Minute))
	assert.Equal(t, 1, rl.Len())
	assert.Equal(t, 0, rl.Cleanup(5*time.Minute))
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(50, time.Hour)
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := map[string]int{}

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := fmt.Sprintf("u%d@x.io", i%2)
			if rl.Allow(identity) {
				mu.Lock()
				allowed[identity]++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, allowed["u0@x.io"])
	assert.Equal(t, 50, allowed["u1@x.io"])
}
