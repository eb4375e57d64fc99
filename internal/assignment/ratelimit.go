package assignment

import (
	"context"
	"time"
)

// GrantCounter counts an admin's successful grants since an instant. Backed
// by the audit trail rather than a dedicated counter.
type GrantCounter interface {
	CountRecentGrants(ctx context.Context, adminID int64, since time.Time) (int, error)
}

// RateLimiter throttles privilege grants per administrative identity over a
// trailing window. The count is read-then-decide with no atomic reservation,
// so concurrent requests from one admin can transiently exceed the nominal
// limit: this is a best-effort throttle, not a hard quota.
type RateLimiter struct {
	counter GrantCounter
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter builds a RateLimiter. A limit of 10 per trailing hour is
// the platform default.
func NewRateLimiter(counter GrantCounter, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{counter: counter, limit: limit, window: window, now: time.Now}
}

// Allow reports whether the admin may perform another grant right now.
func (l *RateLimiter) Allow(ctx context.Context, adminID int64) (bool, error) {
	if l == nil || l.counter == nil {
		return true, nil
	}
	since := l.now().Add(-l.window)
	count, err := l.counter.CountRecentGrants(ctx, adminID, since)
	if err != nil {
		return false, err
	}
	return count < l.limit, nil
}
