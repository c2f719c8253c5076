package ratelimit

import (
	"context"
	"sync"
	"time"
)

// memorySweepInterval is how often, in seconds, stale windows are evicted.
const memorySweepInterval = 60

type memoryEntry struct {
	window int64
	count  int
}

// MemoryLimiter implements a fixed-window in-memory rate limiter. Keys that
// go quiet are evicted on a periodic sweep so the counter map does not grow
// with every client address ever seen.
type MemoryLimiter struct {
	mu       sync.Mutex
	counters map[string]*memoryEntry
	sweepAt  int64
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		counters: make(map[string]*memoryEntry),
	}
}

// Allow checks whether the request should be allowed in the current second.
func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, now time.Time) (Result, error) {
	if limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	sec := now.Unix()
	reset := time.Unix(sec+1, 0).UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(sec)

	entry := l.counters[key]
	if entry == nil {
		entry = &memoryEntry{window: sec}
		l.counters[key] = entry
	}
	if entry.window != sec {
		entry.window = sec
		entry.count = 0
	}
	if entry.count >= limit {
		return Result{Allowed: false, Remaining: 0, Reset: reset}, nil
	}
	entry.count++
	return Result{Allowed: true, Remaining: limit - entry.count, Reset: reset}, nil
}

// sweep drops counters whose window has passed. Runs at most once per
// interval, with l.mu held.
func (l *MemoryLimiter) sweep(sec int64) {
	if sec < l.sweepAt {
		return
	}
	l.sweepAt = sec + memorySweepInterval
	for key, entry := range l.counters {
		if entry.window < sec {
			delete(l.counters, key)
		}
	}
}

// size returns the number of tracked keys, for tests.
func (l *MemoryLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}
