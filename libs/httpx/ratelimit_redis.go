package httpx

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments key and returns the hit count inside the current window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// KeyFunc picks the budget a request is charged against.
type KeyFunc func(*http.Request) string

// RateLimiter is a fixed-window limiter. With a Redis counter the budget is shared by
// every booking-service replica.
type RateLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
	prefix  string
	key     KeyFunc
}

var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisCounter runs the INCR+PEXPIRE pair atomically as a Lua script.
type RedisCounter struct {
	rdb *redis.Client
}

func (c RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	res, err := redisFixedWindowScript.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, err
	}
	switch v := res.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected redis script result type %T", res)
	}
}

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RateLimiter {
	return NewRateLimiter(RedisCounter{rdb: rdb}, limit, window, prefix)
}

func NewRateLimiter(counter Counter, limit int, window time.Duration, prefix string) *RateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window < time.Millisecond {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RateLimiter{counter: counter, limit: limit, window: window, prefix: prefix, key: ClientIP}
}

// WithKey replaces the default per-IP budget.
func (rl *RateLimiter) WithKey(fn KeyFunc) *RateLimiter {
	if fn != nil {
		rl.key = fn
	}
	return rl
}

// Middleware rejects requests over budget with 429. When the counter fails the request
// is let through if failOpen, otherwise answered with 503.
func (rl *RateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, err := rl.counter.Incr(r.Context(), rl.prefix+":"+rl.key(r), rl.window)
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", "err", err, "fail_open", failOpen)
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			remaining := max(int64(rl.limit)-count, 0)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			if count > int64(rl.limit) {
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP prefers the first X-Forwarded-For hop, then the socket peer.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		first, _, _ := strings.Cut(ip, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
