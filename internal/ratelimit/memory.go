package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a sliding-window limiter keeping per-key request
// timestamps in memory. Suitable for a single-instance deployment and
// for tests.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	config *Config
	now    func() time.Time
}

// NewMemoryLimiter creates an in-memory sliding-window limiter.
func NewMemoryLimiter(cfg *Config) *MemoryLimiter {
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		config: normalize(cfg),
		now:    time.Now,
	}
}

// Allow records a request for key and reports whether it is within the
// ceiling for the current window.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.config.Window)

	kept := l.hits[key][:0]
	for _, t := range l.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if int64(len(kept)) >= l.config.RequestsPerWindow {
		l.hits[key] = kept

		// A zero ceiling denies with an empty window.
		retryAfter := l.config.Window
		if len(kept) > 0 {
			retryAfter = kept[0].Add(l.config.Window).Sub(now)
		}

		return &Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: retryAfter,
		}, nil
	}

	l.hits[key] = append(kept, now)

	return &Result{
		Allowed:   true,
		Remaining: l.config.RequestsPerWindow - int64(len(l.hits[key])),
	}, nil
}
