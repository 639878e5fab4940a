package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiterConfig configures the fixed-window limiter on ingest endpoints.
type RateLimiterConfig struct {
	Client    *redis.Client
	Limit     int
	Window    time.Duration
	KeyPrefix string
	// Extractor names the client. Defaults to gin's ClientIP, which only
	// reads forwarding headers from trusted proxies.
	Extractor func(c *gin.Context) string
}

// NewRateLimiter returns a Redis-backed fixed-window limiter. Requests pass
// through when Redis is unreachable.
func NewRateLimiter(cfg RateLimiterConfig) gin.HandlerFunc {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "fusion:rl:"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Extractor == nil {
		cfg.Extractor = func(c *gin.Context) string {
			return c.ClientIP()
		}
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id := cfg.Extractor(c)
		if id == "" {
			id = "anonymous"
		}
		key := cfg.KeyPrefix + id

		count, err := cfg.Client.Incr(ctx, key).Result()
		if err != nil {
			log.Debug("rate limiter unavailable", "error", err.Error())
			c.Next()
			return
		}
		if count == 1 {
			cfg.Client.Expire(ctx, key, cfg.Window)
		}

		ttl, _ := cfg.Client.TTL(ctx, key).Result()
		reset := int(ttl.Seconds())
		if reset < 0 {
			reset = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Limit))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if count > int64(cfg.Limit) {
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":           "rate limit exceeded",
				"rate_limit":      cfg.Limit,
				"window":          cfg.Window.String(),
				"retry_after_sec": reset,
			})
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", cfg.Limit-int(count)))
		c.Next()
	}
}
