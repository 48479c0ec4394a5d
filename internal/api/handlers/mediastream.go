package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/session"
	"github.com/troikatech/carecall/pkg/env"
	"github.com/troikatech/carecall/pkg/logger"
)

// newMediaStreamUpgrader accepts Twilio's media stream connections. Twilio
// sends no Origin header; browser origins must match the CORS allow list.
func newMediaStreamUpgrader(cfg *env.Config) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || !cfg.IsProduction() || cfg.CORSAllowedOrigins == "*" {
				return true
			}
			for _, allowed := range strings.Split(cfg.CORSAllowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					return true
				}
			}

			logger.Log.Warn("Media stream connection rejected - invalid origin",
				zap.String("origin", origin),
				zap.String("remote_addr", r.RemoteAddr),
			)
			return false
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// MediaStream bridges one Twilio media stream to a voice agent conversation
// and blocks for the life of the call.
func (h *Handler) MediaStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade media stream",
			zap.Error(err),
			zap.String("origin", c.GetHeader("Origin")),
			zap.String("remote_addr", c.Request.RemoteAddr),
		)
		return
	}

	h.logger.Info("Media stream connected", zap.String("remote_addr", c.Request.RemoteAddr))

	stream := session.NewWebSocketStream(conn, h.logger)
	if err := h.sessions.Serve(h.baseCtx, stream); err != nil {
		h.logger.Warn("Media session ended with error", zap.Error(err))
		return
	}
	h.logger.Info("Media session ended")
}
