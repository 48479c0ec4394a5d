package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/outbound"
	"github.com/troikatech/carecall/pkg/audit"
	"github.com/troikatech/carecall/pkg/phone"
)

type InitiateCallResponse struct {
	Status  string `json:"status"`
	CallSid string `json:"call_sid,omitempty"`
	Message string `json:"message,omitempty"`
}

// InitiateCall places a personalised outbound call to the path's phone number.
func (h *Handler) InitiateCall(c *gin.Context) {
	raw := c.Param("phone_number")
	res, err := h.initiator.Initiate(c.Request.Context(), raw)
	h.auditInitiate(c, raw, res, err)
	if err != nil {
		c.JSON(http.StatusOK, InitiateCallResponse{Status: "error", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, InitiateCallResponse{Status: "success", CallSid: res.CallSid})
}

// auditInitiate records who asked for a call. Recorder failures are logged
// and never change the response.
func (h *Handler) auditInitiate(c *gin.Context, raw string, res outbound.Result, err error) {
	if h.auditor == nil {
		return
	}

	subject := c.GetString("admin_subject")
	if subject == "" {
		subject = "anonymous:" + c.ClientIP()
	}
	target := res.Phone
	if target == "" {
		target = phone.Normalize(raw)
	}

	entry := audit.Entry{
		Subject:  subject,
		Action:   audit.ActionInitiateCall,
		Resource: phone.Mask(target),
		Outcome:  audit.OutcomeSuccess,
		Metadata: map[string]string{},
	}
	if res.Provider != "" {
		entry.Metadata["provider"] = res.Provider
	}
	if res.CallSid != "" {
		entry.Metadata["call_sid"] = res.CallSid
	}
	if err != nil {
		entry.Outcome = audit.OutcomeFailure
		entry.Detail = err.Error()
	}

	// The trail is written even when the admin client has already hung up.
	if err := h.auditor.Record(context.WithoutCancel(c.Request.Context()), entry); err != nil {
		h.logger.Warn("Failed to record audit entry",
			zap.String("action", string(entry.Action)),
			zap.String("subject", entry.Subject),
			zap.String("outcome", entry.Outcome),
			zap.Error(err))
	}
}
