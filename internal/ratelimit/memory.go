package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/queryrelay/queryrelay/internal/config"
)

// MemoryLimiter implements a sliding window over in-process state.
// Suitable for a single Gatekeeper instance.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	limit     int
	window    time.Duration
	now       func() time.Time // injectable clock for tests
	lastSweep time.Time
}

// newMemoryLimiter creates an in-memory sliding window limiter
func newMemoryLimiter(cfg config.RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		windows:   make(map[string][]time.Time),
		limit:     cfg.Limit,
		window:    cfg.Window,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

// Allow prunes the identity's window and counts this request
func (l *MemoryLimiter) Allow(_ context.Context, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	// Identities that stop sending would otherwise hold their map entry
	// forever; sweep them out at most once per window.
	if now.Sub(l.lastSweep) >= l.window {
		for id, times := range l.windows {
			if id == identity {
				continue
			}
			if len(times) == 0 || !times[len(times)-1].After(cutoff) {
				delete(l.windows, id)
			}
		}
		l.lastSweep = now
	}

	kept := l.windows[identity][:0]
	for _, t := range l.windows[identity] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	l.windows[identity] = kept

	return len(kept) <= l.limit, nil
}

// Close is a no-op for the memory backend
func (l *MemoryLimiter) Close() error {
	return nil
}
