// Package ratelimit provides per-key request budgets for uploads and
// WebSocket questions.
package ratelimit

import (
	"context"
	"time"

	"github.com/scalecode-solutions/mvdocs/config"
)

// Policy decides whether one more request for key fits the budget.
// A non-nil error means the decision could not be made; callers log it
// and let the request through.
type Policy interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Noop allows everything. It is used when a limit is disabled.
type Noop struct{}

// Allow always returns true.
func (Noop) Allow(context.Context, string) (bool, error) { return true, nil }

// Counter is a shared fixed-window counter, implemented by redis.Client.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// FromConfig builds the policy for one configured limit. A nil counter
// selects the in-process sliding window.
func FromConfig(cfg config.RateLimit, counter Counter) Policy {
	if !cfg.Enabled() {
		return Noop{}
	}
	if counter != nil {
		return NewShared(counter, cfg.Count, cfg.Window())
	}
	return New(cfg.Count, cfg.Window())
}
