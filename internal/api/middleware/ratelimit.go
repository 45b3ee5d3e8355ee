package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter limits requests per key using redis, so limits are shared by
// every API instance. When redis is unreachable it falls back to an
// in-process token bucket per key.
type RateLimiter struct {
	redis *redis_rate.Limiter
	limit redis_rate.Limit
	local sync.Map
}

type localEntry struct {
	limiter *rate.Limiter
	seen    time.Time
	mu      sync.Mutex
}

// NewRateLimiter allows requests per windowSeconds. rdb may be nil, in
// which case only the local limiter is used.
func NewRateLimiter(rdb *redis.Client, requests int, windowSeconds int) *RateLimiter {
	if requests <= 0 {
		requests = 100
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	rl := &RateLimiter{
		limit: redis_rate.Limit{
			Rate:   requests,
			Burst:  requests,
			Period: time.Duration(windowSeconds) * time.Second,
		},
	}
	if rdb != nil {
		rl.redis = redis_rate.NewLimiter(rdb)
	}
	return rl
}

// Allow reports whether a request for key may proceed, how many remain in
// the window and when the window resets.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, time.Time) {
	if rl.redis != nil {
		res, err := rl.redis.Allow(ctx, "ratelimit:"+key, rl.limit)
		if err == nil {
			return res.Allowed > 0, res.Remaining, time.Now().Add(res.ResetAfter)
		}
	}
	return rl.allowLocal(key)
}

func (rl *RateLimiter) allowLocal(key string) (bool, int, time.Time) {
	perSec := float64(rl.limit.Rate) / rl.limit.Period.Seconds()
	v, _ := rl.local.LoadOrStore(key, &localEntry{
		limiter: rate.NewLimiter(rate.Limit(perSec), rl.limit.Burst),
	})
	entry := v.(*localEntry)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	now := time.Now()
	entry.seen = now

	allowed := entry.limiter.AllowN(now, 1)
	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	reset := now.Add(time.Duration(float64(time.Second) / perSec))
	return allowed, remaining, reset
}

// Sweep drops local entries idle for longer than maxIdle.
func (rl *RateLimiter) Sweep(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	rl.local.Range(func(k, v any) bool {
		entry := v.(*localEntry)
		entry.mu.Lock()
		idle := entry.seen.Before(cutoff)
		entry.mu.Unlock()
		if idle {
			rl.local.Delete(k)
		}
		return true
	})
}

func (rl *RateLimiter) handler(keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, remaining, resetTime := rl.Allow(r.Context(), keyFn(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit.Rate))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(resetTime).Seconds())+1, 10))
				writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit limits requests per client IP.
func RateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return rl.handler(func(r *http.Request) string { return "ip:" + getClientIP(r) })
}

// RateLimitByUser limits requests per authenticated user, falling back to
// the client IP.
func RateLimitByUser(rl *RateLimiter) func(http.Handler) http.Handler {
	return rl.handler(func(r *http.Request) string {
		if userID := GetUserID(r.Context()); userID != uuid.Nil {
			return "user:" + userID.String()
		}
		return "ip:" + getClientIP(r)
	})
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
