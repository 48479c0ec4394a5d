package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/carecall/internal/profile"
	"github.com/troikatech/carecall/internal/store"
	"github.com/troikatech/carecall/pkg/logger"
	"github.com/troikatech/carecall/pkg/phone"
)

const lookupTimeout = 5 * time.Second

type CallerNameResponse struct {
	Name string `json:"name"`
}

type ProfileErrorResponse struct {
	CallerName string `json:"caller_name"`
	Error      string `json:"error"`
}

func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Twilio-ElevenLabs Integration Server"})
}

// GetCallerName answers with the caller's display name, or the default
// greeting name when the number is unknown or the lookup fails.
func (h *Handler) GetCallerName(c *gin.Context) {
	raw := c.Query("phone_number")
	if strings.TrimSpace(raw) == "" {
		c.JSON(http.StatusOK, CallerNameResponse{Name: profile.DefaultCallerName})
		return
	}
	canonical := phone.Normalize(raw)

	ctx, cancel := context.WithTimeout(c.Request.Context(), lookupTimeout)
	defer cancel()

	user, err := h.callers.UserByPhone(ctx, canonical)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusOK, CallerNameResponse{Name: profile.DefaultCallerName})
		return
	case err != nil:
		h.logger.Error("Caller name lookup failed", logger.MaskPhone("phone", canonical), zap.Error(err))
		c.JSON(http.StatusOK, CallerNameResponse{Name: profile.DefaultCallerName})
		return
	}

	c.JSON(http.StatusOK, CallerNameResponse{Name: user.UserName})
}

// GetLovedOneProfile returns the nested profile context, or
// {caller_name, error} when it cannot be assembled.
func (h *Handler) GetLovedOneProfile(c *gin.Context) {
	raw := c.Query("phone_number")
	if strings.TrimSpace(raw) == "" {
		c.JSON(http.StatusOK, ProfileErrorResponse{
			CallerName: profile.DefaultCallerName,
			Error:      "phone_number is required",
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), lookupTimeout)
	defer cancel()

	c.JSON(http.StatusOK, h.assembler.Assemble(ctx, phone.Normalize(raw)))
}
