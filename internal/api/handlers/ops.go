package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/troikatech/carecall/pkg/metrics"
)

const healthTimeout = 2 * time.Second

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
	LatencyMS map[string]int64  `json:"latency_ms,omitempty"`
}

// HealthCheck pings every backing service in parallel. It answers 200 even
// when a dependency is down; the body reports "degraded".
func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  map[string]string{"api": "healthy"},
		LatencyMS: make(map[string]int64, len(h.health)),
	}

	var mu sync.Mutex
	var g errgroup.Group
	for name, ping := range h.health {
		g.Go(func() error {
			start := time.Now()
			err := ping(ctx)
			took := time.Since(start).Milliseconds()

			mu.Lock()
			defer mu.Unlock()
			resp.LatencyMS[name] = took
			if err != nil {
				h.logger.Warn("Health check failed", zap.String("service", name), zap.Error(err))
				resp.Services[name] = "unhealthy"
				resp.Status = "degraded"
				return nil
			}
			resp.Services[name] = "healthy"
			return nil
		})
	}
	_ = g.Wait()

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.GetMetrics())
}

// GetPrometheusMetrics serves the same counters in text exposition format.
func (h *Handler) GetPrometheusMetrics(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(metrics.GetPrometheusMetrics()))
}
