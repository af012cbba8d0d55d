package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/service/chats"
)

// PollHandlers serves the endpoint handshake and the long-poll channel.
type PollHandlers struct {
	chats          *chats.Service
	maxPollTimeout time.Duration
	log            *zerolog.Logger
}

// NewPollHandlers creates a new poll handlers instance. Polls never hold
// longer than maxPollTimeout.
func NewPollHandlers(svc *chats.Service, maxPollTimeout time.Duration, logger *zerolog.Logger) *PollHandlers {
	return &PollHandlers{
		chats:          svc,
		maxPollTimeout: maxPollTimeout,
		log:            logger,
	}
}

// Endpoints registers the caller for event delivery and returns the starting cursor.
// POST /api/endpoints
func (h *PollHandlers) Endpoints(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, core.ErrCodeUnauthorized, "unauthorized")
		return
	}

	resp, err := h.chats.Subscribe(c.Request.Context(), viewer)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("username", viewer.Username).Str("cursor", resp.Cursor).Msg("endpoint subscribed")
	c.JSON(http.StatusOK, resp)
}

// Poll holds the request until events newer than cursor exist or the timeout elapses.
// GET /api/poll?cursor=N&timeout=ms
func (h *PollHandlers) Poll(c *gin.Context) {
	viewer, ok := viewerFrom(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, core.ErrCodeUnauthorized, "unauthorized")
		return
	}

	timeout := h.maxPollTimeout
	if raw := c.Query("timeout"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, "invalid timeout")
			return
		}
		timeout = min(time.Duration(ms)*time.Millisecond, h.maxPollTimeout)
	}

	resp, err := h.chats.Poll(c.Request.Context(), viewer, c.Query("cursor"), timeout)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Debug().Str("username", viewer.Username).Int("events", len(resp.Events)).Str("cursor", resp.Cursor).Msg("poll answered")
	c.JSON(http.StatusOK, resp)
}
