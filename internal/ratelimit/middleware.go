package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/reportdesk/reportdesk/internal/config"
)

// NewLimiter selects the limiter backend from configuration. A Redis address
// enables the shared fixed-window limiter so multiple instances count
// together; otherwise the in-process limiter is used.
func NewLimiter(cfg config.RateLimitConfig) Limiter {
	if cfg.RedisAddr == "" {
		return NewMemoryLimiter()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	log.WithField("addr", cfg.RedisAddr).Info("rate limiting backed by redis")
	return NewRedisLimiter(client, "reportdesk:rl")
}

// PerIPMiddleware limits requests per client IP per second. A limiter error
// fails open so a Redis outage cannot take down authentication.
func PerIPMiddleware(limiter Limiter, limit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, errAllow := limiter.Allow(c.Request.Context(), c.ClientIP(), limit, time.Now())
		if errAllow != nil {
			log.WithError(errAllow).Warn("rate limit check failed, allowing request")
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(res.RetryAfterSeconds(time.Now())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
