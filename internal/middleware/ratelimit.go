// ratelimit.go provides Gin middleware that enforces per-client rate limits,
// returning 429 responses when the configured requests-per-minute threshold is
// exceeded. With Redis enabled the limiter state is shared across instances via
// redis_rate's sliding-window counters; in demo mode a process-local token
// bucket stands in.
package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"log/slog"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the maximum number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often the local limiter drops idle entries
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// Limiter is the rate-limit decision point shared by the Redis-backed and
// local implementations.
type Limiter interface {
	// Allow reports whether one request under key may proceed, how many
	// requests remain in the current window, and how long to wait when denied.
	Allow(ctx context.Context, key string) (allowed bool, remaining int, retryAfter time.Duration)
}

// RedisLimiter enforces limits through redis_rate, so all server instances
// sharing the same Redis see one combined quota per client.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter creates a Redis-backed limiter.
func NewRedisLimiter(client *redis.Client, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   cfg.RequestsPerMinute,
			Burst:  cfg.BurstSize,
			Period: time.Minute,
		},
	}
}

// Allow implements Limiter. A Redis failure fails open: throttling is a
// protection, not a correctness requirement, and a dead Redis must not take
// the API down with it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, int, time.Duration) {
	res, err := l.limiter.Allow(ctx, "ratelimit:"+key, l.limit)
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", "error", err)
		return true, 0, 0
	}
	return res.Allowed > 0, res.Remaining, res.RetryAfter
}

// rateLimitEntry tracks the token bucket for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// LocalLimiter implements a process-local token bucket. It backs demo mode,
// where no Redis is configured.
type LocalLimiter struct {
	config  RateLimitConfig
	entries map[string]*rateLimitEntry
	mu      sync.Mutex
	stopCh  chan struct{}
}

// NewLocalLimiter creates a local limiter with the given config
func NewLocalLimiter(config RateLimitConfig) *LocalLimiter {
	rl := &LocalLimiter{
		config:  config,
		entries: make(map[string]*rateLimitEntry),
		stopCh:  make(chan struct{}),
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// cleanup periodically removes idle entries
func (rl *LocalLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, entry := range rl.entries {
				// Remove entries that haven't been accessed in 10 minutes
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *LocalLimiter) Stop() {
	close(rl.stopCh)
}

// Allow implements Limiter.
func (rl *LocalLimiter) Allow(_ context.Context, key string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.entries[key]

	if !exists {
		// New client, give them full burst
		rl.entries[key] = &rateLimitEntry{
			tokens:     float64(rl.config.BurstSize) - 1,
			lastUpdate: now,
		}
		return true, rl.config.BurstSize - 1, 0
	}

	// Refill based on time elapsed, capped at burst size
	elapsed := now.Sub(entry.lastUpdate)
	tokensPerSecond := float64(rl.config.RequestsPerMinute) / 60.0
	entry.tokens = minf(float64(rl.config.BurstSize), entry.tokens+elapsed.Seconds()*tokensPerSecond)
	entry.lastUpdate = now

	if entry.tokens >= 1 {
		entry.tokens--
		return true, int(entry.tokens), 0
	}

	wait := time.Duration((1 - entry.tokens) / tokensPerSecond * float64(time.Second))
	return false, 0, wait
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests
// per client IP.
func RateLimitMiddleware(limiter Limiter, requestsPerMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, remaining, retryAfter := limiter.Allow(c.Request.Context(), rateLimitKey(c))

		c.Header("X-RateLimit-Limit", strconv.Itoa(requestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": seconds,
			})
			return
		}

		c.Next()
	}
}

// rateLimitKey determines the key to use for rate limiting
func rateLimitKey(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
