package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/errors"
	"github.com/troikatech/carecall/pkg/logger"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	idempotencyReplayed  = "X-Idempotency-Key-Used"
	idempotencyPending   = "\x00pending"

	idempotencySettleTimeout = 2 * time.Second
)

// Idempotency replays the stored response for a repeated Idempotency-Key
// instead of running the handler again. Keys are scoped per admin subject.
// A request still in flight under the same key gets 409. Only 2xx
// responses are stored; anything else frees the key for a retry.
func Idempotency(client *redis.Client, scope string, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(idempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		cacheKey := "idempotency:" + scope + ":" + hashIdempotencyKey(c.GetString("admin_subject"), key)
		ctx := c.Request.Context()

		claimed, err := client.SetNX(ctx, cacheKey, idempotencyPending, ttl).Result()
		if err != nil {
			logger.Log.Warn("Idempotency check failed, running request", zap.String("scope", scope), zap.Error(err))
			c.Next()
			return
		}

		if !claimed {
			stored, err := client.Get(ctx, cacheKey).Result()
			switch {
			case err != nil:
				logger.Log.Warn("Idempotency lookup failed, running request", zap.String("scope", scope), zap.Error(err))
				c.Next()
			case stored == idempotencyPending:
				errors.AbortWithProblem(c, http.StatusConflict, "a request with this Idempotency-Key is in progress")
			default:
				c.Header(idempotencyReplayed, "true")
				c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(stored))
				c.Abort()
			}
			return
		}

		rec := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = rec
		defer func() {
			// A panicking handler must not leave the key pending until ttl.
			if r := recover(); r != nil {
				settleIdempotencyKey(ctx, scope, func(ctx context.Context) error {
					return client.Del(ctx, cacheKey).Err()
				})
				panic(r)
			}
		}()
		c.Next()

		body := rec.body.String()
		if status := rec.Status(); status >= 200 && status < 300 {
			settleIdempotencyKey(ctx, scope, func(ctx context.Context) error {
				return client.Set(ctx, cacheKey, body, ttl).Err()
			})
			return
		}
		settleIdempotencyKey(ctx, scope, func(ctx context.Context) error {
			return client.Del(ctx, cacheKey).Err()
		})
	}
}

// settleIdempotencyKey replaces the pending marker. It outlives the request
// context: a caller that hung up mid-request still gets its replay.
func settleIdempotencyKey(ctx context.Context, scope string, write func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), idempotencySettleTimeout)
	defer cancel()
	if err := write(ctx); err != nil {
		logger.Log.Warn("Failed to record idempotent response", zap.String("scope", scope), zap.Error(err))
	}
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bodyRecorder) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *bodyRecorder) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

func hashIdempotencyKey(subject, key string) string {
	hash := sha256.Sum256([]byte(subject + "\x00" + key))
	return hex.EncodeToString(hash[:])
}
