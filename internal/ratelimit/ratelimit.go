// Package ratelimit enforces the per-caller invocation quota over a sliding window.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	// ResetAt is when the oldest counted invocation leaves the window.
	ResetAt time.Time
}

// RetryAfter is the wait until the next invocation would be admitted.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter checks and records a caller's invocation in one atomic step.
// Denied attempts are not recorded.
type Limiter interface {
	Allow(ctx context.Context, callerID string) (Decision, error)
}

// MemoryLimiter keeps per-caller timestamps in process memory.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, callerID string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	if now.Sub(l.lastSweep) >= l.window {
		l.sweep(cutoff)
		l.lastSweep = now
	}

	hits := l.hits[callerID]
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	hits = hits[i:]

	if len(hits) >= l.limit {
		l.hits[callerID] = hits
		return Decision{Limit: l.limit, ResetAt: hits[0].Add(l.window)}, nil
	}

	hits = append(hits, now)
	l.hits[callerID] = hits
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(hits),
		ResetAt:   hits[0].Add(l.window),
	}, nil
}

// sweep drops callers whose newest hit has left the window.
func (l *MemoryLimiter) sweep(cutoff time.Time) {
	for caller, hits := range l.hits {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(l.hits, caller)
		}
	}
}
