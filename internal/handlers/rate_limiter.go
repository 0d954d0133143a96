package handlers

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tomoya0318/PrefTrend/internal/platform/httpx"
)

type rateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// fixedWindowLimiter admits limit requests per key per window.
type fixedWindowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	mu     sync.Mutex
	store  map[string]rateEntry
}

type rateEntry struct {
	count int
	reset time.Time
}

func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]rateEntry),
	}
}

// Allow reports whether key may proceed and, when it may not, how long until the window resets.
func (l *fixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[key]
	if !ok || !now.Before(entry.reset) {
		l.store[key] = rateEntry{count: 1, reset: now.Add(l.window)}
		l.pruneExpiredLocked(now)
		return true, 0
	}

	if entry.count >= l.limit {
		return false, entry.reset.Sub(now)
	}
	entry.count++
	l.store[key] = entry
	return true, 0
}

func (l *fixedWindowLimiter) pruneExpiredLocked(now time.Time) {
	for key, entry := range l.store {
		if !now.Before(entry.reset) {
			delete(l.store, key)
		}
	}
}

// RateLimitMiddleware throttles requests per client IP with a fixed window.
// A non-positive limit disables throttling.
func RateLimitMiddleware(limit int, window time.Duration, clock func() time.Time) func(http.Handler) http.Handler {
	limiter := newFixedWindowLimiter(limit, window, clock)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, retryAfter := limiter.Allow(clientKey(r))
			if !allowed {
				seconds := int(retryAfter.Round(time.Second) / time.Second)
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
