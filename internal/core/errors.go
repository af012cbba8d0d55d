package core

import (
	"errors"
	"fmt"
)

// Error codes carried on the wire between the service and the gateway.
const (
	ErrCodeInvalidCredentials = "invalid_credentials"
	ErrCodeCaptchaRequired    = "captcha_required"
	ErrCodeChatNotFound       = "chat_not_found"
	ErrCodeContactNotFound    = "contact_not_found"
	ErrCodeUnauthorized       = "unauthorized"
	ErrCodeBadRequest         = "bad_request"
	ErrCodeInternal           = "internal"
)

var (
	// ErrInvalidCredentials is returned when the service rejects the username/password
	// or the session token.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrCaptchaRequired is returned when the service demands a CAPTCHA before login.
	// It matches ErrInvalidCredentials with errors.Is.
	ErrCaptchaRequired = fmt.Errorf("%w: captcha required", ErrInvalidCredentials)
	// ErrConnection marks transient network or transport failures.
	ErrConnection = errors.New("connection error")
	// ErrParse marks a malformed payload from the service.
	ErrParse = errors.New("parse error")
	// ErrChatNotFound is returned when the account is not a member of a chat.
	ErrChatNotFound = errors.New("chat not found")
	// ErrContactNotFound is returned when the service knows no such account.
	ErrContactNotFound = errors.New("contact not found")

	ErrNotAuthenticated  = errors.New("session is not authenticated")
	ErrAlreadySubscribed = errors.New("session is already subscribed")
	ErrLoggedOut         = errors.New("session is logged out")
	ErrNoContacts        = errors.New("at least one contact is required")
	ErrInvalidIdentity   = errors.New("invalid chat identity")
)

// CoreError wraps a wire code and human-readable message.
type CoreError struct {
	Code    string
	Message string
}

func (e *CoreError) Error() string {
	return e.Code + ": " + e.Message
}

// Unwrap maps the wire code onto the sentinel taxonomy so callers can use errors.Is.
func (e *CoreError) Unwrap() error {
	switch e.Code {
	case ErrCodeInvalidCredentials, ErrCodeUnauthorized:
		return ErrInvalidCredentials
	case ErrCodeCaptchaRequired:
		return ErrCaptchaRequired
	case ErrCodeChatNotFound:
		return ErrChatNotFound
	case ErrCodeContactNotFound:
		return ErrContactNotFound
	case ErrCodeInternal:
		return ErrConnection
	default:
		return nil
	}
}

// NewCoreError builds a CoreError.
func NewCoreError(code, msg string) *CoreError {
	return &CoreError{Code: code, Message: msg}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrConnection)
}
