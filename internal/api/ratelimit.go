package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Login throttling defaults, used when the configuration leaves them unset.
const (
	defaultLoginPerMinute = 10
	defaultLoginBurst     = 5

	// limiterIdleTTL is how long an address keeps its bucket after its last request.
	limiterIdleTTL = 10 * time.Minute
	// limiterSweepInterval is how often idle buckets are dropped.
	limiterSweepInterval = time.Minute
)

// ipLimiter is a token bucket per client address.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	if perMinute <= 0 {
		perMinute = defaultLoginPerMinute
	}
	if burst <= 0 {
		burst = defaultLoginBurst
	}
	return &ipLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		now:     time.Now,
	}
}

// allow takes one token from ip's bucket.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// sweep drops buckets idle for longer than limiterIdleTTL and returns how
// many remain.
func (l *ipLimiter) sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-limiterIdleTTL)
	for ip, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
	return len(l.buckets)
}

// cleanupLoop runs sweep periodically until the context is cancelled.
func (l *ipLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}
