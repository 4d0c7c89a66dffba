package ratelimit

import (
	"context"
	"time"
)

// Shared is a fixed window limiter whose counters live in a Counter
// shared by every server instance.
type Shared struct {
	counter Counter
	limit   int64
	window  time.Duration
}

// NewShared creates a fixed window limiter over counter.
func NewShared(counter Counter, limit int, window time.Duration) *Shared {
	return &Shared{counter: counter, limit: int64(limit), window: window}
}

// Allow increments the key's counter and reports whether it is within the limit.
func (s *Shared) Allow(ctx context.Context, key string) (bool, error) {
	n, err := s.counter.IncrWindow(ctx, key, s.window)
	if err != nil {
		return true, err
	}
	return n <= s.limit, nil
}
