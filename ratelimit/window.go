package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window implements a sliding window rate limiter held in process memory.
// It tracks request times per key and rejects requests that exceed the limit.
type Window struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time

	// Stale keys are swept at most once per sweepEvery.
	sweepEvery time.Duration
	lastSweep  time.Time
}

// New creates a sliding window limiter allowing limit requests per window.
func New(limit int, window time.Duration) *Window {
	return newWindow(limit, window, time.Now)
}

func newWindow(limit int, window time.Duration, now func() time.Time) *Window {
	return &Window{
		hits:       make(map[string][]time.Time),
		limit:      limit,
		window:     window,
		now:        now,
		sweepEvery: window * 10,
		lastSweep:  now(),
	}
}

// Allow records a request for key if it fits the window.
func (w *Window) Allow(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	start := now.Add(-w.window)

	if now.Sub(w.lastSweep) > w.sweepEvery {
		w.sweep(start)
		w.lastSweep = now
	}

	live := prune(w.hits[key], start)
	if len(live) >= w.limit {
		w.hits[key] = live
		return false, nil
	}
	w.hits[key] = append(live, now)
	return true, nil
}

// keys returns the number of tracked keys.
func (w *Window) keys() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hits)
}

// sweep drops keys with no requests left in the window. Must be called
// with mu held.
func (w *Window) sweep(start time.Time) {
	for key, times := range w.hits {
		if live := prune(times, start); len(live) == 0 {
			delete(w.hits, key)
		} else {
			w.hits[key] = live
		}
	}
}

// prune keeps the times after start, reusing the backing array.
func prune(times []time.Time, start time.Time) []time.Time {
	live := times[:0]
	for _, t := range times {
		if t.After(start) {
			live = append(live, t)
		}
	}
	return live
}
