package http

import (
	"context"
	"net"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/auth"
	"github.com/vovakirdan/pollchat/internal/config"
	"github.com/vovakirdan/pollchat/internal/service/chats"
)

// NewServer builds the emulator HTTP server. Requests inherit ctx, so
// cancelling it releases held polls; the login rate limiter runs until then too.
func NewServer(ctx context.Context, authService *auth.Service, chatService *chats.Service, cfg config.ServerConfig, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	limiter := newRateLimiter(cfg.LoginRateLimit)
	limiter.startReset(ctx.Done())

	apiHandlers := NewAPIHandlers(authService, logger)
	chatHandlers := NewChatHandlers(chatService, logger)
	pollHandlers := NewPollHandlers(chatService, cfg.MaxPollTimeout, logger)
	userHandlers := NewUserHandlers(chatService, logger)

	api := router.Group("/api")
	{
		public := api.Group("", RateLimitMiddleware(limiter, logger))
		public.POST("/register", apiHandlers.Register)
		public.POST("/login", apiHandlers.Login)

		authorized := api.Group("", AuthMiddleware(authService, logger))
		authorized.POST("/logout", apiHandlers.Logout)

		authorized.POST("/endpoints", pollHandlers.Endpoints)
		authorized.GET("/poll", pollHandlers.Poll)

		authorized.POST("/chats", chatHandlers.CreateChat)
		authorized.GET("/chats/:id", chatHandlers.GetChat)
		authorized.POST("/chats/:id/messages", chatHandlers.SendMessage)
		authorized.PUT("/chats/:id/messages/:msgID", chatHandlers.EditMessage)
		authorized.PUT("/chats/:id/topic", chatHandlers.SetTopic)
		authorized.POST("/chats/:id/members/:username", chatHandlers.AddMember)
		authorized.DELETE("/chats/:id/members/:username", chatHandlers.RemoveMember)

		authorized.GET("/contacts/:username", userHandlers.GetContact)
		authorized.PUT("/presence", userHandlers.SetPresence)
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
