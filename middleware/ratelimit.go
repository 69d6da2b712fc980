package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"rag-knowledge-platform/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Limiter counts hits in a fixed window. Hit returns the count after this
// hit and when the window resets.
type Limiter interface {
	Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

// RedisLimiter shares counters across API replicas.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (l *RedisLimiter) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	start := time.Now().Truncate(window)
	reset := start.Add(window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, start.Unix())

	count, err := l.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return 0, reset, err
	}
	// Set expiration on first request
	if count == 1 {
		l.rdb.Expire(ctx, redisKey, window)
	}
	return count, reset, nil
}

// MemoryLimiter is the single-process fallback when Redis is not configured.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int64
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]memoryWindow), now: time.Now}
}

func (l *MemoryLimiter) Hit(_ context.Context, key string, window time.Duration) (int64, time.Time, error) {
	start := l.now().Truncate(window)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[key]
	if !w.start.Equal(start) {
		w = memoryWindow{start: start}
		// drop stale windows so the map does not grow without bound
		for k, other := range l.windows {
			if other.start.Before(start) {
				delete(l.windows, k)
			}
		}
	}
	w.count++
	l.windows[key] = w
	return w.count, start.Add(window), nil
}

// UserRateLimit allows limit requests per user per minute. It must run after
// RequireAuth. Limiter errors fail open.
func UserRateLimit(limiter Limiter, limit int, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}

		key := GetUserID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		count, reset, err := limiter.Hit(c.Request.Context(), key, time.Minute)
		if err != nil {
			// Fail open - don't block requests if Redis is down
			logger.Warn("rate limiter unavailable", "error", err, "request_id", GetRequestID(c))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(limit) {
			c.Header("X-RateLimit-Remaining", "0")
			utils.RespondWithError(c, http.StatusTooManyRequests,
				"rate_limit_exceeded",
				"Too many requests. Please try again later.",
				gin.H{
					"retry_after": int(time.Until(reset).Seconds()) + 1,
					"limit":       limit,
				})
			c.Abort()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(int64(limit)-count, 10))
		c.Next()
	}
}
