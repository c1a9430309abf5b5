// Package ratelimit throttles completion submissions per user.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/common"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per user. Buckets idle for longer than the
// eviction window are dropped on the next Allow.
type Limiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
	buckets  map[string]*bucket
	lastScan time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// New returns a limiter admitting perMinute requests per user with the
// given burst. perMinute <= 0 disables limiting.
func New(perMinute, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		limit:   rate.Inf,
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return l
}

// Allow consumes one token from the user's bucket.
func (l *Limiter) Allow(userID string) error {
	if l == nil || l.limit == rate.Inf {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evict(now)

	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.seen = now
	if !b.lim.AllowN(now, 1) {
		return fmt.Errorf("%w: user %s", common.ErrRateLimited, userID)
	}
	return nil
}

func (l *Limiter) evict(now time.Time) {
	if now.Sub(l.lastScan) < l.idle {
		return
	}
	l.lastScan = now
	for id, b := range l.buckets {
		if now.Sub(b.seen) >= l.idle {
			delete(l.buckets, id)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
