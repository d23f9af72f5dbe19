package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter applies a token bucket per client address. Idle buckets are
// evicted by the cache janitor.
type RateLimiter struct {
	visitors   *cache.Cache
	limit      rate.Limit
	burst      int
	trustProxy bool
}

func NewRateLimiter(perSecond float64, burst int, trustProxy bool) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors:   cache.New(10*time.Minute, 5*time.Minute),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		trustProxy: trustProxy,
	}
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.visitors.Get(key); ok {
		l.visitors.SetDefault(key, v)
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if err := l.visitors.Add(key, lim, cache.DefaultExpiration); err != nil {
		// another request created it first
		if v, ok := l.visitors.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// Allow reports whether a request from key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return l.Handler(next, nil)
}

// Handler limits next and hands rejected requests to reject, which writes
// the 429 response. Retry-After is set before reject runs. A nil reject
// writes a plain JSON error.
func (l *RateLimiter) Handler(next, reject http.Handler) http.Handler {
	if reject == nil {
		reject = http.HandlerFunc(tooManyRequests)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r, l.trustProxy)) {
			w.Header().Set("Retry-After", "1")
			reject.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "too_many_requests", "message": "too many requests"})
}

// ClientIP returns the caller address. X-Forwarded-For is honoured only behind
// a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
