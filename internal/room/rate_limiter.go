package room

import (
	"time"

	"chatroom/internal/session"
)

// RateLimiter applies a sliding window with a cooldown to each session.
// State lives on the session itself; the limiter only holds the policy.
// TECHNICAL DISCOVERY: no locking here, the room actor is the only caller.
type RateLimiter struct {
	limit    int
	window   time.Duration
	cooldown time.Duration
}

// RateResult is the outcome of one Check.
type RateResult struct {
	Limited   bool `json:"limited"`
	Remaining int  `json:"remaining"` // seconds of cooldown left
}

// NewRateLimiter creates a limiter allowing limit messages per window,
// followed by cooldown once the limit is hit.
func NewRateLimiter(limit int, window, cooldown time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, cooldown: cooldown}
}

// Check records an attempt at now unless the session is limited.
func (rl *RateLimiter) Check(s *session.Session, now time.Time) RateResult {
	nowMs := now.UnixMilli()
	if s.RateLimitedUntil > nowMs {
		return RateResult{Limited: true, Remaining: ceilDiv(s.RateLimitedUntil-nowMs, 1000)}
	}

	cutoff := nowMs - rl.window.Milliseconds()
	kept := s.RecentMessageTimestamps[:0]
	for _, ts := range s.RecentMessageTimestamps {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	s.RecentMessageTimestamps = kept

	if len(kept) >= rl.limit {
		s.RateLimitedUntil = nowMs + rl.cooldown.Milliseconds()
		return RateResult{Limited: true, Remaining: int(rl.cooldown / time.Second)}
	}
	s.RecentMessageTimestamps = append(kept, nowMs)
	return RateResult{}
}

func ceilDiv(n, d int64) int {
	return int((n + d - 1) / d)
}
