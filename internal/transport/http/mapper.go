package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/pollchat/internal/auth"
	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/service/chats"
)

// Error codes local to the emulator; the rest live in core.
const (
	errCodeConflict      = "conflict"
	errCodeForbidden     = "forbidden"
	errCodeNotFound      = "not_found"
	errCodeTooManyLogins = "rate_limited"
)

// ErrorResponse represents an error response body. It matches proto.Error on the wire.
type ErrorResponse struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

func abortWithError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Error: msg})
}

// writeError maps a service error onto a status code and wire error code.
func writeError(c *gin.Context, log *zerolog.Logger, err error) {
	switch {
	case errors.Is(err, chats.ErrChatNotFound):
		abortWithError(c, http.StatusNotFound, core.ErrCodeChatNotFound, err.Error())
	case errors.Is(err, chats.ErrContactNotFound):
		abortWithError(c, http.StatusNotFound, core.ErrCodeContactNotFound, err.Error())
	case errors.Is(err, chats.ErrMessageNotFound):
		abortWithError(c, http.StatusNotFound, errCodeNotFound, err.Error())
	case errors.Is(err, chats.ErrNotAuthor):
		abortWithError(c, http.StatusForbidden, errCodeForbidden, err.Error())
	case errors.Is(err, chats.ErrNotGroup), errors.Is(err, chats.ErrInvalidRequest),
		errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrInvalidPassword):
		abortWithError(c, http.StatusBadRequest, core.ErrCodeBadRequest, err.Error())
	case errors.Is(err, auth.ErrUserExists):
		abortWithError(c, http.StatusConflict, errCodeConflict, "user already exists")
	case errors.Is(err, auth.ErrCaptchaRequired):
		abortWithError(c, http.StatusUnauthorized, core.ErrCodeCaptchaRequired, "captcha required")
	case errors.Is(err, auth.ErrInvalidCredentials):
		abortWithError(c, http.StatusUnauthorized, core.ErrCodeInvalidCredentials, "invalid credentials")
	case errors.Is(err, auth.ErrInvalidToken):
		abortWithError(c, http.StatusUnauthorized, core.ErrCodeUnauthorized, "invalid token")
	case errors.Is(err, context.Canceled):
		// Client went away; nobody reads the response.
		c.Abort()
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		abortWithError(c, http.StatusInternalServerError, core.ErrCodeInternal, "internal server error")
	}
}
