package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/troikatech/carecall/pkg/twilio"
)

// RegisterRoutes mounts every endpoint. guard runs in front of the outbound
// call trigger only.
func (h *Handler) RegisterRoutes(router gin.IRouter, guard ...gin.HandlerFunc) {
	router.GET("/", h.Root)
	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", h.GetMetrics)
	router.GET("/metrics/prometheus", h.GetPrometheusMetrics)

	router.GET("/get-caller-name", h.GetCallerName)
	router.GET("/get-loved-one-profile", h.GetLovedOneProfile)

	tw := router.Group("/twilio")
	{
		tw.POST("/inbound_call", h.InboundCall)
		tw.POST("/conversation-initiation", h.ConversationInitiation)
		tw.POST("/call-end", h.CallEnd)
	}

	router.GET(twilio.MediaStreamPath, h.MediaStream)

	router.GET("/initiate_call/:phone_number", append(guard, h.InitiateCall)...)
}
