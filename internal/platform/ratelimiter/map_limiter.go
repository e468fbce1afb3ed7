package ratelimiter

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const sweepEvery = 256

// MapLimiter keeps one token bucket per admission source and forgets sources idle longer than idleTTL.
type MapLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu       sync.Mutex
	buckets  map[string]*bucket
	requests uint64
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New returns nil, which allows everything, when rps or burst is not positive.
func New(rps float64, burst int, idleTTL time.Duration) *MapLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &MapLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token for source at now. An empty source is never limited.
func (l *MapLimiter) Allow(source string, now time.Time) bool {
	if l == nil {
		return true
	}
	source = strings.TrimSpace(source)
	if source == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[source]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[source] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)

	l.requests++
	if l.requests%sweepEvery == 0 {
		l.sweepLocked(now)
	}
	return allowed
}

// Sources returns the number of tracked sources.
func (l *MapLimiter) Sources() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *MapLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-l.idleTTL)
	for source, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, source)
		}
	}
}
