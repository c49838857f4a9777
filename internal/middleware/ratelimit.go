package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	redis_rate "github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-IP request budget backed by redis. When
// redis is unreachable it fails over to an in-process token bucket
// rather than rejecting traffic.
type RateLimiter struct {
	limiter  *redis_rate.Limiter
	fallback *localLimiter
	limit    redis_rate.Limit
}

// NewRateLimiter creates a per-IP rate limiter allowing ratePerMinute
// requests per rolling minute with the given burst.
func NewRateLimiter(rdb *redis.Client, ratePerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		limiter:  redis_rate.NewLimiter(rdb),
		fallback: newLocalLimiter(),
		limit: redis_rate.Limit{
			Rate:   ratePerMinute,
			Burst:  burst,
			Period: time.Minute,
		},
	}
}

// Handler wraps next with the rate limit check.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := keyByIP(r)

		res, err := rl.limiter.Allow(r.Context(), key, rl.limit)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Rate limiter unavailable, using local fallback")
			if !rl.fallback.allow(key, rl.limit) {
				writeRateLimited(w, time.Second)
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if res.Allowed == 0 {
			writeRateLimited(w, res.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func keyByIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return "ratelimit:ip:" + strings.TrimSpace(ips[len(ips)-1])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return "ratelimit:ip:" + xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ratelimit:ip:" + ip
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	respondError(w, "Too many requests", http.StatusTooManyRequests)
}

// localLimiter is the in-process fallback used when redis is down.
type localLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

const (
	cleanupInterval = 5 * time.Minute
	entryTTL        = 10 * time.Minute
)

func newLocalLimiter() *localLimiter {
	l := &localLimiter{limiters: make(map[string]*limiterEntry)}
	go l.cleanup()
	return l
}

func (l *localLimiter) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-entryTTL)
		l.mu.Lock()
		for key, entry := range l.limiters {
			if entry.lastAccess.Before(cutoff) {
				delete(l.limiters, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *localLimiter) allow(key string, limit redis_rate.Limit) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.limiters[key]
	if !ok {
		perSec := float64(limit.Rate) / limit.Period.Seconds()
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(perSec), limit.Burst)}
		l.limiters[key] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}
