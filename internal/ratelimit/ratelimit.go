// Package ratelimit bounds the rate of sensitive operations (login
// attempts, password-reset requests) per identity. Counters live in a
// backing store so concurrent handlers observe one shared window; callers
// treat limiter errors as fail-open.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of a single check-and-increment.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter tracks attempt counts per identity key within a time window. The
// read-increment is a single atomic operation in every implementation; a
// naive read-then-write would under-enforce the limit under concurrency.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (Result, error)
}

// Inspector exposes the raw attempt timestamps of a sliding-log limiter for
// audit queries.
type Inspector interface {
	Attempts(ctx context.Context, key string, window time.Duration) ([]time.Time, error)
}

// MemoryLimiter is an in-process sliding-log limiter used in tests and in
// local runs without a Redis backend.
type MemoryLimiter struct {
	mu   sync.Mutex
	logs map[string][]time.Time
	now  func() time.Time
}

// NewMemoryLimiter constructs an empty in-process limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{logs: make(map[string][]time.Time), now: time.Now}
}

// WithClock overrides the time source. Only intended for tests.
func (l *MemoryLimiter) WithClock(fn func() time.Time) *MemoryLimiter {
	if fn != nil {
		l.now = fn
	}
	return l
}

// CheckAndIncrement appends an attempt if fewer than max attempts span the
// trailing window, pruning entries that have aged out.
func (l *MemoryLimiter) CheckAndIncrement(ctx context.Context, key string, window time.Duration, max int) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	entries := l.logs[key][:0:0]
	for _, ts := range l.logs[key] {
		if ts.After(cutoff) {
			entries = append(entries, ts)
		}
	}

	if len(entries) >= max {
		l.logs[key] = entries
		return Result{Allowed: false, Remaining: 0, ResetAt: entries[0].Add(window)}, nil
	}

	entries = append(entries, now)
	l.logs[key] = entries
	return Result{Allowed: true, Remaining: max - len(entries), ResetAt: now.Add(window)}, nil
}

// Attempts returns the timestamps recorded for the key within the trailing
// window, oldest first.
func (l *MemoryLimiter) Attempts(ctx context.Context, key string, window time.Duration) ([]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-window)
	var out []time.Time
	for _, ts := range l.logs[key] {
		if ts.After(cutoff) {
			out = append(out, ts)
		}
	}
	return out, nil
}
