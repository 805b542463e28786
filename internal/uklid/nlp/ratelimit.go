package nlp

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultRateLimit is the number of messages a worker may have classified
	// per window when no limit is configured.
	DefaultRateLimit = 20

	defaultRateLimitWindow = time.Minute
)

// Limiter decides whether a sender may have another message classified.
type Limiter interface {
	Allow(ctx context.Context, senderID string) bool
}

// RateLimiter is an in-process sliding-window Limiter. It keeps the call
// timestamps of each sender inside the window and prunes older ones on every
// Allow, so memory stays bounded by limit entries per active sender.
//
// RateLimiter is safe for concurrent use.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	counters map[string][]time.Time
}

// NewRateLimiter allows at most limit calls per sender within window.
// Non-positive values select DefaultRateLimit and one minute.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = defaultRateLimitWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		counters: make(map[string][]time.Time),
	}
}

// Allow records a call and reports whether it fits in the sender's quota.
func (r *RateLimiter) Allow(_ context.Context, senderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	valid := r.prune(senderID, now)
	if len(valid) >= r.limit {
		r.counters[senderID] = valid
		return false
	}
	r.counters[senderID] = append(valid, now)
	return true
}

// Remaining returns how many calls the sender can still make in the window.
func (r *RateLimiter) Remaining(senderID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	valid := r.prune(senderID, r.now())
	r.counters[senderID] = valid
	if len(valid) == 0 {
		delete(r.counters, senderID)
	}
	if rem := r.limit - len(valid); rem > 0 {
		return rem
	}
	return 0
}

// prune drops timestamps outside the window, reusing the backing array.
// Callers must hold r.mu.
func (r *RateLimiter) prune(senderID string, now time.Time) []time.Time {
	cutoff := now.Add(-r.window)
	existing := r.counters[senderID]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
