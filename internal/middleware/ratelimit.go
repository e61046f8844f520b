package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/phoneauth/server/internal/apperr"
	"github.com/phoneauth/server/internal/http/respond"
	"github.com/phoneauth/server/internal/kv"
)

// RateLimiter is a fixed-window counter kept in the ephemeral store, so
// every replica shares the same budget
type RateLimiter struct {
	store   kv.Store
	scope   string
	window  time.Duration
	maxReqs int
}

// NewRateLimiter allows maxReqs requests per key in each window
func NewRateLimiter(store kv.Store, scope string, window time.Duration, maxReqs int) *RateLimiter {
	return &RateLimiter{
		store:   store,
		scope:   scope,
		window:  window,
		maxReqs: maxReqs,
	}
}

// Allow counts a request for key and reports whether it is within budget
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	n, err := rl.store.IncrWithTTL(ctx, "ratelimit:"+rl.scope+":"+key, rl.window)
	if err != nil {
		return false, err
	}
	return n <= int64(rl.maxReqs), nil
}

// RateLimitMiddleware answers 429 once a key exhausts its budget. A store
// outage lets requests through.
func RateLimitMiddleware(limiter *RateLimiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := limiter.Allow(r.Context(), keyFunc(r))
			if err != nil {
				zerolog.Ctx(r.Context()).Warn().Err(err).Str("scope", limiter.scope).Msg("rate limiter unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				w.Header().Set("Retry-After", retryAfter(limiter.window))
				respond.Error(w, r, apperr.RateLimited("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(window time.Duration) string {
	return strconv.Itoa(int(window.Seconds()))
}

// GetIPKey extracts the client IP for rate limiting. chi's RealIP has already
// applied X-Forwarded-For / X-Real-IP to RemoteAddr.
func GetIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
