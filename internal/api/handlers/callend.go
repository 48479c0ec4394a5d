package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/pkg/errors"
	"github.com/troikatech/carecall/pkg/metrics"
	"github.com/troikatech/carecall/pkg/webhook"
)

type CallEndResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CallEnd stores the transcript the voice platform posts after a call. Only
// signature failures are rejected; every other problem is reported in a 200
// body so the platform does not redeliver.
func (h *Handler) CallEnd(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			errors.ErrorResponse(c, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		errors.BadRequest(c, "failed to read request body")
		return
	}

	header := c.GetHeader(webhook.HeaderName)
	if err := webhook.Verify(h.cfg.WebhookSecret, header, body); err != nil {
		h.logger.Warn("Rejected call result webhook",
			zap.Error(err),
			zap.String("remote_addr", c.ClientIP()),
		)
		metrics.RecordCallResult("unauthorized")
		errors.Unauthorized(c, signatureFailureDetail(err))
		return
	}

	outcome, err := h.persister.Persist(c.Request.Context(), body)
	if err != nil {
		h.logger.Error("Failed to persist call result",
			zap.String("conversation_id", outcome.ConversationID),
			zap.Error(err),
		)
		metrics.RecordCallResult("error")
		c.JSON(http.StatusOK, CallEndResponse{Status: "error", Message: err.Error()})
		return
	}

	metrics.RecordCallResult(string(outcome.Kind))
	c.JSON(http.StatusOK, CallEndResponse{Status: outcome.Status(), Message: outcome.Message()})
}

func signatureFailureDetail(err error) string {
	switch {
	case stderrors.Is(err, webhook.ErrMissingSignature):
		return "Missing ElevenLabs-Signature header"
	case stderrors.Is(err, webhook.ErrMalformedSignature):
		return "Invalid ElevenLabs-Signature format"
	default:
		return "Invalid signature"
	}
}
