package ratelimit

import (
	"sync"
	"time"
)

// idleGraceWindows is how many windows a key may sit idle before the
// sweeper evicts its state.
const idleGraceWindows = 2

// InMemoryLimiter is a per-key sliding window over a timestamp list. Each
// check prunes entries older than the window, so memory for an active key
// is bounded by the limit. Keys idle beyond a grace period are evicted
// during checks, not by a timer.
type InMemoryLimiter struct {
	Window time.Duration

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func NewInMemory(window time.Duration) *InMemoryLimiter {
	return &InMemoryLimiter{
		Window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow admits the event iff fewer than limit events remain in the window
// after pruning. A rejected event is not recorded, so rejections do not
// extend the window.
func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	now := l.now()
	cutoff := now.Add(-l.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	recent := prune(l.hits[key], cutoff)
	if len(recent) >= limit {
		l.hits[key] = recent
		return Decision{Allowed: false, Remaining: 0, ResetAt: recent[0].Add(l.Window)}
	}

	recent = append(recent, now)
	l.hits[key] = recent
	return Decision{Allowed: true, Remaining: limit - len(recent), ResetAt: recent[0].Add(l.Window)}
}

func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	return stamps[idx:]
}

// sweepLocked drops keys whose newest event is older than the grace period,
// so idle connections do not leak window state. Runs at most once per
// window.
func (l *InMemoryLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.Window {
		return
	}
	l.lastSweep = now

	evictBefore := now.Add(-time.Duration(idleGraceWindows) * l.Window)
	for key, stamps := range l.hits {
		if len(stamps) == 0 || stamps[len(stamps)-1].Before(evictBefore) {
			delete(l.hits, key)
		}
	}
}

// Forget drops all state for key. The gateway calls it when a connection
// closes so the governor does not wait out the grace period.
func (l *InMemoryLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.hits, key)
}

// TrackedKeys reports how many keys currently hold window state.
func (l *InMemoryLimiter) TrackedKeys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}
