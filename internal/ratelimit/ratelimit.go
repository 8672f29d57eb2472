// Package ratelimit gates remote calls to a fixed minimum interval.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter enforces a minimum wall-clock interval between successive calls.
// One instance exists per remote call-budget class; calls are never dropped
// or reordered, only delayed.
type Limiter struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func New(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Wait blocks until the configured interval has elapsed since the previous
// call, then records the new call time.
func (l *Limiter) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.last.IsZero() {
		if elapsed := time.Since(l.last); elapsed < l.interval {
			time.Sleep(l.interval - elapsed)
		}
	}
	l.last = time.Now()
}
