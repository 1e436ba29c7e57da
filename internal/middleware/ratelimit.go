package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig configures token bucket limiting. With PerClient set
// each remote IP gets its own bucket; otherwise one bucket covers all
// requests.
type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	PerClient bool
}

// RateLimitMiddleware answers 429 once the bucket is empty.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	limiter := newLimiter(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.allow(clientKey(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// idleBucketTTL is how long an untouched client bucket is kept.
const idleBucketTTL = 10 * time.Minute

type limiter struct {
	mu        sync.Mutex
	rate      float64
	burst     float64
	perClient bool
	buckets   map[string]*tokenBucket
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	return &limiter{
		rate:      cfg.RPS,
		burst:     float64(cfg.Burst),
		perClient: cfg.PerClient,
		buckets:   map[string]*tokenBucket{},
		lastSweep: time.Now(),
	}
}

func (l *limiter) allow(key string, now time.Time) bool {
	if l.rate <= 0 || l.burst <= 0 {
		return true
	}
	if !l.perClient {
		key = ""
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > idleBucketTTL {
		for k, b := range l.buckets {
			if now.Sub(b.last) > idleBucketTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: l.burst, last: now}
		l.buckets[key] = b
	}
	return b.take(l.rate, l.burst, now)
}

type tokenBucket struct {
	tokens float64
	last   time.Time
}

func (b *tokenBucket) take(rate, burst float64, now time.Time) bool {
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens = min(burst, b.tokens+elapsed*rate)
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
