package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Skotchmaster/tasks_app/internal/observability"
	"github.com/Skotchmaster/tasks_app/pkg/logging"
	"github.com/go-redis/redis/v8"
	"github.com/labstack/echo/v4"
)

// WindowStore counts hits in fixed windows. Hit returns the count including
// this hit and the time left until the window resets.
type WindowStore interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type RateLimitConfig struct {
	Max     int
	Window  time.Duration
	Store   WindowStore
	Metrics *observability.Metrics
	KeyFunc func(c echo.Context) string
	Skipper func(c echo.Context) bool
}

// RateLimit admits at most Max requests per key in each Window. Store
// errors fail open.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c echo.Context) string { return "ip:" + c.RealIP() }
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.Skipper != nil && cfg.Skipper(c) {
				return next(c)
			}
			ctx := c.Request().Context()

			count, ttl, err := cfg.Store.Hit(ctx, cfg.KeyFunc(c), cfg.Window)
			if err != nil {
				logging.FromContext(ctx).Warn("rate_limit_store_error", "error", err)
				return next(c)
			}

			remaining := int64(cfg.Max) - count
			if remaining < 0 {
				remaining = 0
			}
			resetSecs := int64(math.Ceil(ttl.Seconds()))
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetSecs, 10))

			if count > int64(cfg.Max) {
				cfg.Metrics.RateLimited()
				h.Set("Retry-After", strconv.FormatInt(resetSecs, 10))
				return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests")
			}
			return next(c)
		}
	}
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is a per-process WindowStore.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
	lastGC  time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*memoryWindow), now: time.Now}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastGC) > window {
		for k, w := range s.windows {
			if !now.Before(w.resetAt) {
				delete(s.windows, k)
			}
		}
		s.lastGC = now
	}

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// RedisStore shares windows between instances.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisStore{Client: client, Prefix: prefix}
}

// hitScript counts the hit and starts the window in one atomic step, so
// concurrent first hits cannot each push the expiry further out.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

func (s *RedisStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	redisKey := fmt.Sprintf("%s:%s", s.Prefix, key)

	res, err := hitScript.Run(ctx, s.Client, []string{redisKey}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis error: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("redis error: unexpected script reply %v", res)
	}
	count, ok1 := vals[0].(int64)
	ttlMs, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("redis error: unexpected script reply %v", res)
	}
	return count, time.Duration(ttlMs) * time.Millisecond, nil
}
