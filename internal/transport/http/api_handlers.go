package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/auth"
	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
)

// APIHandlers provides HTTP handlers for account endpoints.
type APIHandlers struct {
	authService *auth.Service
	log         *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService: authService,
		log:         logger,
	}
}

// Register handles user registration.
// POST /api/register
func (h *APIHandlers) Register(c *gin.Context) {
	var req proto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid register request")
		abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, "invalid request body")
		return
	}

	token, err := h.authService.Register(c.Request.Context(), req.Username, req.Password, req.DisplayName)
	if err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user registered successfully")
	c.JSON(http.StatusCreated, proto.AuthResponse{Token: token})
}

// Login handles user login.
// POST /api/login
func (h *APIHandlers) Login(c *gin.Context) {
	var req proto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid login request")
		abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, "invalid request body")
		return
	}

	token, err := h.authService.Login(c.Request.Context(), req.Username, req.Password, req.Captcha)
	if err != nil {
		h.log.Info().Err(err).Str("username", req.Username).Msg("login refused")
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("username", req.Username).Msg("user logged in successfully")
	c.JSON(http.StatusOK, proto.AuthResponse{Token: token})
}

// Logout revokes the caller's token.
// POST /api/logout
func (h *APIHandlers) Logout(c *gin.Context) {
	claims, ok := c.MustGet(ContextKeyClaims).(*auth.Claims)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, core.ErrCodeUnauthorized, "unauthorized")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims); err != nil {
		writeError(c, h.log, err)
		return
	}

	h.log.Info().Str("username", claims.Username).Msg("user logged out")
	c.Status(http.StatusNoContent)
}
