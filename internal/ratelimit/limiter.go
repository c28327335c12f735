// Package ratelimit throttles message creation per actor with token
// buckets, so one noisy client cannot flood a channel's fan-out.
package ratelimit

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per user id.
type Limiter struct {
	mu      sync.Mutex
	buckets map[int64]*bucket
	limit   rate.Limit
	burst   int
	logger  *zap.Logger
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a limiter allowing perSecond sustained events with
// the given burst per user.
func NewLimiter(perSecond float64, burst int, logger *zap.Logger) *Limiter {
	return &Limiter{
		buckets: make(map[int64]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		logger:  logger,
	}
}

// Allow reports whether the user may perform one more event now.
func (l *Limiter) Allow(userID int64) bool {
	l.mu.Lock()
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()

	allowed := b.limiter.Allow()
	if !allowed {
		l.logger.Debug("rate limit exceeded", zap.Int64("user_id", userID))
	}
	return allowed
}

// Prune drops buckets idle for longer than maxIdle. Call periodically so
// the map does not grow with every user ever seen.
func (l *Limiter) Prune(maxIdle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-maxIdle)
	for id, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, id)
		}
	}
}
