//go:generate go run go.uber.org/mock/mockgen -source=gateway.go -destination=../mocks/mock_gateway.go -package=mocks

// Package gateway is the transport boundary between a session and the chat service.
//
// Every method classifies its failures onto the core error taxonomy:
// core.ErrConnection for transient transport failures, core.ErrParse for
// malformed payloads, core.ErrInvalidCredentials (and core.ErrCaptchaRequired)
// for rejected credentials or tokens, core.ErrChatNotFound when the account
// is not a member of the requested chat and core.ErrContactNotFound for an
// unknown username. Callers match with errors.Is.
package gateway

import (
	"context"
	"time"

	"github.com/vovakirdan/pollchat/internal/core"
	"github.com/vovakirdan/pollchat/internal/proto"
)

// Token is an opaque session token plus what the client could learn about it.
type Token struct {
	Value     string
	Username  string
	ExpiresAt time.Time
}

// Valid reports whether the token carries a value.
func (t Token) Valid() bool {
	return t.Value != ""
}

// Gateway performs authenticated calls against the chat service.
type Gateway interface {
	// Authenticate exchanges credentials for a session token.
	Authenticate(ctx context.Context, username, password string) (Token, error)

	// Subscribe registers a polling endpoint and returns the initial cursor.
	Subscribe(ctx context.Context, token Token) (string, error)

	// LongPoll blocks until events newer than cursor exist or the server hold expires.
	LongPoll(ctx context.Context, token Token, cursor string) (*proto.PollResponse, error)

	// FetchChat returns the full state of a chat the account is a member of.
	FetchChat(ctx context.Context, token Token, id string) (core.ChatData, error)

	// FetchContact returns a contact profile.
	FetchContact(ctx context.Context, token Token, username string) (core.ContactData, error)

	// CreateChat creates a group chat with the given members.
	CreateChat(ctx context.Context, token Token, members []string) (core.ChatData, error)

	// SendMessage posts a message and returns it as stored by the service.
	SendMessage(ctx context.Context, token Token, chatID, body, clientID string) (core.Message, error)

	// Logout invalidates the token on the server.
	Logout(ctx context.Context, token Token) error
}
