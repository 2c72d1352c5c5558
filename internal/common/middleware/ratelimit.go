package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Both counters are labelled with the limited route prefix, or "all" when
// the limiter covers every path.
var (
	rateLimitRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginrisk",
			Name:      "rate_limit_rejected_total",
			Help:      "Requests rejected with 429 by the per-IP rate limiter",
		},
		[]string{"route"},
	)

	rateLimitUnchecked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "loginrisk",
			Name:      "rate_limit_unchecked_total",
			Help:      "Requests let through unchecked because the Redis counter was unavailable",
		},
		[]string{"route"},
	)
)

// RateLimitConfig configures the distributed rate limiter
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	// Paths limited by this middleware. Empty means every path except skipPaths.
	Paths []string
}

// skipPaths are paths exempt from rate limiting
var skipPaths = []string{
	"/health",
	"/metrics",
	"/ready",
}

// DistributedRateLimit implements a Redis-backed fixed window counter keyed
// by client IP. If Redis is unavailable it fails open.
func DistributedRateLimit(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	windowSeconds := int64(cfg.Window.Seconds())
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	return func(c *gin.Context) {
		route, ok := limitedRoute(c.Request.URL.Path, cfg.Paths)
		if !ok {
			c.Next()
			return
		}

		if redisClient == nil {
			rateLimitUnchecked.WithLabelValues(route).Inc()
			c.Next()
			return
		}

		windowEpoch := time.Now().Unix() / windowSeconds
		key := fmt.Sprintf("ratelimit:%s:%s:%d", route, c.ClientIP(), windowEpoch)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			rateLimitUnchecked.WithLabelValues(route).Inc()
			logger.Warn("Rate limit Redis error, failing open",
				zap.Error(err),
				zap.String("key", key))
			c.Next()
			return
		}

		if count == 1 {
			redisClient.Expire(ctx, key, time.Duration(windowSeconds)*time.Second+time.Second)
		}

		remaining := int64(cfg.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Requests))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > int64(cfg.Requests) {
			retryAfter := windowSeconds - (time.Now().Unix() % windowSeconds)
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			rateLimitRejected.WithLabelValues(route).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// limitedRoute reports whether path is rate limited and under which prefix
func limitedRoute(path string, paths []string) (string, bool) {
	for _, sp := range skipPaths {
		if path == sp {
			return "", false
		}
	}
	if len(paths) == 0 {
		return "all", true
	}
	for _, p := range paths {
		if strings.HasPrefix(path, p) {
			return p, true
		}
	}
	return "", false
}
