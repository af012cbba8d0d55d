package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
	"github.com/vovakirdan/pollchat/internal/service/chats"
)

// ChatHandlers provides HTTP handlers for chat endpoints.
type ChatHandlers struct {
	chats *chats.Service
	log   *zerolog.Logger
}

// NewChatHandlers creates a new chat handlers instance.
func NewChatHandlers(svc *chats.Service, logger *zerolog.Logger) *ChatHandlers {
	return &ChatHandlers{
		chats: svc,
		log:   logger,
	}
}

// GetChat returns a chat with its members and recent messages.
// GET /api/chats/:id
func (h *ChatHandlers) GetChat(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	chat, err := h.chats.GetChat(c.Request.Context(), viewer, c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, chat)
}

// CreateChat creates a group chat including the caller.
// POST /api/chats
func (h *ChatHandlers) CreateChat(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	var req proto.CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create chat request")
		abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, "invalid request body")
		return
	}

	chat, err := h.chats.CreateGroup(c.Request.Context(), viewer, req.Members, req.Topic)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// SendMessage posts a message to a chat.
// POST /api/chats/:id/messages
func (h *ChatHandlers) SendMessage(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	var req proto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send message request")
		abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, "invalid request body")
		return
	}

	msg, err := h.chats.SendMessage(c.Request.Context(), viewer, c.Param("id"), req.Body, req.ClientID)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// EditMessage replaces the body of one of the caller's messages.
// PUT /api/chats/:id/messages/:msgID
func (h *ChatHandlers) EditMessage(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	var req proto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, "invalid request body")
		return
	}

	msg, err := h.chats.EditMessage(c.Request.Context(), viewer, c.Param("id"), c.Param("msgID"), req.Body)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// SetTopic changes a group topic.
// PUT /api/chats/:id/topic
func (h *ChatHandlers) SetTopic(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	var req proto.SetTopicRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, "invalid request body")
		return
	}

	if err := h.chats.SetTopic(c.Request.Context(), viewer, c.Param("id"), req.Topic); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddMember adds a user to a group.
// POST /api/chats/:id/members/:username
func (h *ChatHandlers) AddMember(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	if err := h.chats.AddMember(c.Request.Context(), viewer, c.Param("id"), c.Param("username")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RemoveMember removes a user from a group.
// DELETE /api/chats/:id/members/:username
func (h *ChatHandlers) RemoveMember(c *gin.Context) {
	viewer, ok := h.viewer(c)
	if !ok {
		return
	}

	if err := h.chats.RemoveMember(c.Request.Context(), viewer, c.Param("id"), c.Param("username")); err != nil {
		writeError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ChatHandlers) viewer(c *gin.Context) (chats.Viewer, bool) {
	viewer, ok := viewerFrom(c)
	if !ok {
		h.log.Error().Msg("user_id not found in context")
		abortWithError(c, http.StatusUnauthorized, core.ErrCodeUnauthorized, "unauthorized")
	}
	return viewer, ok
}
