package ratelimit

import (
	"sync"
	"time"
)

// Fixed-window limit per user per minute. Sync submissions are one per
// completed test session plus queue replays, so this is generous.
const perMinute = 60

type userCounter struct {
	count     int
	lastReset time.Time
}

// RateLimiter is a per-user fixed-window limiter. Idle counters are
// dropped by a background cleanup loop.
type RateLimiter struct {
	counters map[string]*userCounter
	mu       sync.Mutex

	// now is replaceable in tests.
	now func() time.Time
}

func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{
		counters: make(map[string]*userCounter),
		now:      time.Now,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			rl.cleanup()
		}
	}()

	return rl
}

func (rl *RateLimiter) IsAllowed(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	counter, exists := rl.counters[userID]

	if !exists {
		rl.counters[userID] = &userCounter{count: 1, lastReset: now}
		return true
	}

	if now.Sub(counter.lastReset) >= time.Minute {
		counter.count = 1
		counter.lastReset = now
		return true
	}

	if counter.count >= perMinute {
		return false
	}

	counter.count++
	return true
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for userID, counter := range rl.counters {
		if now.Sub(counter.lastReset) >= time.Minute {
			delete(rl.counters, userID)
		}
	}
}
