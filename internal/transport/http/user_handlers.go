package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
	"github.com/vovakirdan/pollchat/internal/service/chats"
)

// UserHandlers provides HTTP handlers for contact and presence endpoints.
type UserHandlers struct {
	chats *chats.Service
	log   *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(svc *chats.Service, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		chats: svc,
		log:   logger,
	}
}

// GetContact returns the public profile of an account.
// GET /api/contacts/:username
func (h *UserHandlers) GetContact(c *gin.Context) {
	contact, err := h.chats.GetContact(c.Request.Context(), c.Param("username"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

// SetPresence updates the caller's presence, display name and mood.
// PUT /api/presence
func (h *UserHandlers) SetPresence(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, core.ErrCodeUnauthorized, "unauthorized")
		return
	}

	var req proto.SetPresenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, "invalid request body")
		return
	}

	contact, err := h.chats.SetPresence(c.Request.Context(), viewer, req)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}
