package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/troikatech/carecall/pkg/errors"
	"github.com/troikatech/carecall/pkg/logger"
)

// RateLimiter is a fixed-window counter per client kept in redis.
type RateLimiter struct {
	client      *redis.Client
	scope       string
	maxRequests int
	window      time.Duration
}

func NewRateLimiter(client *redis.Client, scope string, maxRequestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		client:      client,
		scope:       scope,
		maxRequests: maxRequestsPerMinute,
		window:      time.Minute,
	}
}

// Middleware counts requests per admin subject, or per client IP when the
// request is unauthenticated. Redis failures let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("ratelimit:%s:%s", rl.scope, clientKey(c))
		ctx := c.Request.Context()

		count, err := rl.client.Incr(ctx, key).Result()
		if err != nil {
			logger.Log.Warn("Rate limit check failed, allowing request",
				zap.String("scope", rl.scope),
				zap.Error(err),
			)
			c.Next()
			return
		}

		if count == 1 {
			rl.client.Expire(ctx, key, rl.window)
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.maxRequests))

		if count > int64(rl.maxRequests) {
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", fmt.Sprintf("%d", int(rl.window.Seconds())))
			errors.AbortWithProblem(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", rl.maxRequests-int(count)))
		c.Next()
	}
}

// maxLocalClients bounds the per-client limiter map; it is reset when full.
const maxLocalClients = 10000

// LocalRateLimiter is a per-process token bucket per client, used when no
// redis is configured. Each replica enforces its own limit.
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	scope    string
	perSec   rate.Limit
	burst    int
}

func NewLocalRateLimiter(scope string, maxRequestsPerMinute int) *LocalRateLimiter {
	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		scope:    scope,
		perSec:   rate.Limit(float64(maxRequestsPerMinute) / 60),
		burst:    maxRequestsPerMinute,
	}
}

func (rl *LocalRateLimiter) allow(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[id]
	if !ok {
		if len(rl.limiters) >= maxLocalClients {
			rl.limiters = make(map[string]*rate.Limiter)
		}
		l = rate.NewLimiter(rl.perSec, rl.burst)
		rl.limiters[id] = l
	}
	return l.Allow()
}

func (rl *LocalRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", rl.burst))
		if !rl.allow(clientKey(c)) {
			c.Header("Retry-After", "60")
			errors.AbortWithProblem(c, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

// clientKey is the admin subject when authenticated, else the client IP.
func clientKey(c *gin.Context) string {
	if id := c.GetString("admin_subject"); id != "" {
		return id
	}
	return c.ClientIP()
}
