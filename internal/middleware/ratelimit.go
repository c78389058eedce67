package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RealIP returns the client address, trusting CF-Connecting-IP first and
// then the first hop of X-Forwarded-For.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Limit allows Requests per Window for one key, refilled evenly across the
// window, with bursts of up to Requests.
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) bucket() *rate.Limiter {
	return rate.NewLimiter(rate.Every(l.Window/time.Duration(max(l.Requests, 1))), max(l.Requests, 1))
}

type keyLimiter struct {
	limiter  *rate.Limiter
	window   time.Duration
	lastSeen time.Time
}

// RateLimiter holds one token bucket per key in memory. Idle buckets are
// dropped by Cleanup.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*keyLimiter
	now      func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*keyLimiter),
		now:      time.Now,
	}
}

// Allow takes a token for key. When none is left it returns false and the
// time until the next one.
func (rl *RateLimiter) Allow(key string, l Limit) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	kl := rl.limiters[key]
	if kl == nil {
		kl = &keyLimiter{limiter: l.bucket(), window: l.Window}
		rl.limiters[key] = kl
	}
	kl.lastSeen = now

	res := kl.limiter.ReserveN(now, 1)
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Cleanup drops buckets idle for a full window, which are full again, and
// reports how many.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	n := 0
	for key, kl := range rl.limiters {
		if now.Sub(kl.lastSeen) >= kl.window {
			delete(rl.limiters, key)
			n++
		}
	}
	return n
}

// ByIP keys requests by client IP within a named bucket, so limits on
// different endpoints do not share a counter.
func ByIP(bucket string) func(*http.Request) string {
	return func(r *http.Request) string {
		return bucket + ":" + RealIP(r)
	}
}

// RateLimit rejects requests over l with 429 and a Retry-After header in
// whole seconds.
func RateLimit(limiter *RateLimiter, keyFunc func(*http.Request) string, l Limit) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := limiter.Allow(keyFunc(r), l)
			if !ok {
				secs := int(math.Ceil(wait.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
