package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/convai"
	"github.com/troikatech/carecall/pkg/errors"
	"github.com/troikatech/carecall/pkg/logger"
	"github.com/troikatech/carecall/pkg/twilio"
)

type InboundCallForm struct {
	CallSid string `form:"CallSid"`
	From    string `form:"From"`
}

type ConversationInitiationRequest struct {
	CallerID string `json:"caller_id"`
}

// InboundCall answers Twilio's voice webhook with TwiML that streams the
// call's audio to the media stream endpoint.
func (h *Handler) InboundCall(c *gin.Context) {
	if h.validator != nil {
		if err := c.Request.ParseForm(); err != nil {
			errors.BadRequest(c, "invalid form body")
			return
		}
		if !h.validator.Validate(h.publicURL(c), c.Request) {
			h.logger.Warn("Rejected unsigned Twilio webhook", zap.String("remote_addr", c.ClientIP()))
			errors.Forbidden(c, "invalid Twilio signature")
			return
		}
	}

	var form InboundCallForm
	if err := c.ShouldBind(&form); err != nil {
		h.logger.Warn("Failed to parse inbound call form", zap.Error(err))
	}
	if form.CallSid == "" {
		form.CallSid = "Unknown"
	}

	h.logger.Info("Incoming call",
		zap.String("call_sid", form.CallSid),
		logger.MaskPhoneIfPresent("from", form.From),
	)

	doc, err := twilio.ConnectStream(twilio.StreamURL(h.streamHost(c)), form.From)
	if err != nil {
		errors.InternalError(c, err, h.logger)
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(doc))
}

// ConversationInitiation supplies the dynamic variables for a call the voice
// platform is about to start. It always answers with a usable payload.
func (h *Handler) ConversationInitiation(c *gin.Context) {
	var req ConversationInitiationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Unreadable conversation initiation request", zap.Error(err))
		c.JSON(http.StatusOK, convai.NewInitiationData(convai.Fallback()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), lookupTimeout)
	defer cancel()

	c.JSON(http.StatusOK, convai.NewInitiationData(h.resolver.Variables(ctx, req.CallerID)))
}

// streamHost is the host Twilio should open the media stream against.
func (h *Handler) streamHost(c *gin.Context) string {
	if h.cfg.PublicHost != "" {
		return h.cfg.PublicHost
	}
	return c.Request.Host
}

// publicURL reconstructs the URL Twilio signed.
func (h *Handler) publicURL(c *gin.Context) string {
	return "https://" + twilio.BareHost(h.streamHost(c)) + c.Request.URL.RequestURI()
}
