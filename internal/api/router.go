// Package api assembles the HTTP surface: middleware stack and routes.
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/troikatech/carecall/internal/api/handlers"
	"github.com/troikatech/carecall/pkg/auth"
	"github.com/troikatech/carecall/pkg/env"
	"github.com/troikatech/carecall/pkg/metrics"
	"github.com/troikatech/carecall/pkg/middleware"
	"github.com/troikatech/carecall/pkg/otel"
)

const (
	maxBodyBytes   = 1 << 20
	idempotencyTTL = 24 * time.Hour
)

// NewRouter builds the engine. With a nil redisClient outbound call requests
// are rate limited per process and Idempotency-Key is not honoured.
func NewRouter(cfg *env.Config, h *handlers.Handler, redisClient *redis.Client) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.OTELEnabled {
		router.Use(otel.GinMiddleware("/health", "/metrics", "/metrics/prometheus"))
	}
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(maxBodyBytes))
	router.Use(metrics.Middleware())

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	corsConfig := cors.DefaultConfig()
	if cfg.CORSAllowedOrigins == "" || cfg.CORSAllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.CORSAllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	h.RegisterRoutes(router, outboundGuard(cfg, redisClient)...)
	return router
}

// outboundGuard protects the endpoint that places calls. The admin token
// runs first so the limiter and idempotency keys use the token subject.
func outboundGuard(cfg *env.Config, redisClient *redis.Client) []gin.HandlerFunc {
	var guard []gin.HandlerFunc
	if cfg.AdminJWTSecret != "" {
		guard = append(guard, middleware.AdminAuth(cfg.AdminJWTSecret, auth.ScopeInitiateCall))
	}
	if redisClient == nil {
		if cfg.OutboundRateLimitRPM > 0 {
			guard = append(guard, middleware.NewLocalRateLimiter("initiate_call", cfg.OutboundRateLimitRPM).Middleware())
		}
		return guard
	}
	if cfg.OutboundRateLimitRPM > 0 {
		limiter := middleware.NewRateLimiter(redisClient, "initiate_call", cfg.OutboundRateLimitRPM)
		guard = append(guard, limiter.Middleware())
	}
	guard = append(guard, middleware.Idempotency(redisClient, "initiate_call", idempotencyTTL))
	return guard
}
