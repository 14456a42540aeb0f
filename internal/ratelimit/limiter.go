// Package ratelimit provides a sliding-window call limiter used to keep
// LLM API usage inside free-tier quotas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most max calls within any sliding window. Wait blocks
// until a slot opens. Slots are reserved at call time, so concurrent
// waiters are serialized fairly instead of stampeding when a slot frees.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	grants []time.Time
}

// NewPerMinute creates a limiter admitting max calls per minute.
func NewPerMinute(max int) *Limiter {
	return NewWithWindow(max, time.Minute)
}

// NewWithWindow creates a limiter admitting max calls per window.
func NewWithWindow(max int, window time.Duration) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{max: max, window: window}
}

// Wait blocks until the caller may proceed or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	target := l.reserve(time.Now())

	delay := time.Until(target)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve records a grant and returns the time at which it becomes valid.
func (l *Limiter) reserve(now time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Drop grants that have aged out of every relevant window.
	cutoff := now.Add(-l.window)
	kept := l.grants[:0]
	for _, g := range l.grants {
		if g.After(cutoff) {
			kept = append(kept, g)
		}
	}
	l.grants = kept

	target := now
	if len(l.grants) >= l.max {
		// The window is full. This call becomes valid one window after
		// the grant it displaces.
		earliest := l.grants[len(l.grants)-l.max]
		if t := earliest.Add(l.window); t.After(target) {
			target = t
		}
	}

	l.grants = append(l.grants, target)
	return target
}
