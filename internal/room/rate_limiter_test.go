package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"chatroom/internal/session"
)

func TestRateLimiter_WindowAndCooldown(t *testing.T) {
	rl := NewRateLimiter(10, 10*time.Second, 30*time.Second)
	s := &session.Session{}
	start := time.UnixMilli(1_700_000_000_000)

	for i := 0; i < 10; i++ {
		res := rl.Check(s, start.Add(time.Duration(i)*100*time.Millisecond))
		assert.False(t, res.Limited, "attempt %d", i+1)
	}
	assert.Len(t, s.RecentMessageTimestamps, 10)

	res := rl.Check(s, start.Add(time.Second))
	assert.Equal(t, RateResult{Limited: true, Remaining: 30}, res)
	assert.Equal(t, start.Add(31*time.Second).UnixMilli(), s.RateLimitedUntil)

	// partial seconds round up
	res = rl.Check(s, start.Add(30*time.Second+500*time.Millisecond))
	assert.Equal(t, RateResult{Limited: true, Remaining: 1}, res)

	res = rl.Check(s, start.Add(31*time.Second))
	assert.False(t, res.Limited)
	assert.Len(t, s.RecentMessageTimestamps, 1, "old timestamps pruned")
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl := NewRateLimiter(2, 10*time.Second, 30*time.Second)
	s := &session.Session{}
	start := time.UnixMilli(1_700_000_000_000)

	assert.False(t, rl.Check(s, start).Limited)
	assert.False(t, rl.Check(s, start.Add(5*time.Second)).Limited)
	// first timestamp has left the window
	assert.False(t, rl.Check(s, start.Add(10*time.Second)).Limited)
	assert.True(t, rl.Check(s, start.Add(11*time.Second)).Limited)
}

func TestCeilDiv(t *testing.T) {
	assert.Equal(t, 0, ceilDiv(0, 1000))
	assert.Equal(t, 1, ceilDiv(1, 1000))
	assert.Equal(t, 1, ceilDiv(1000, 1000))
	assert.Equal(t, 2, ceilDiv(1001, 1000))
}
