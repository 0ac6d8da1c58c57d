package provider

import (
	"sync"
	"time"
)

// Limiter tracks recent call timestamps per provider in a sliding window.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	calls  map[string][]time.Time
}

// NewLimiter creates a limiter with the given window. A nil now uses time.Now.
func NewLimiter(window time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	if window <= 0 {
		window = time.Second
	}
	return &Limiter{window: window, now: now, calls: make(map[string][]time.Time)}
}

// Allow records a call for id and reports whether it fits in the window.
// A limit of zero or less disables limiting. Check and append are atomic.
func (l *Limiter) Allow(id string, limit int) bool {
	if limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	recent := l.calls[id]
	keep := recent[:0]
	for _, ts := range recent {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	if len(keep) >= limit {
		l.calls[id] = keep
		return false
	}
	l.calls[id] = append(keep, now)
	return true
}

// Forget drops the window for id.
func (l *Limiter) Forget(id string) {
	l.mu.Lock()
	delete(l.calls, id)
	l.mu.Unlock()
}
