package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// User represents an emulator account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	DisplayName  string
	Mood         string
	Presence     string
	FailedLogins int
	CreatedAt    time.Time
}

// ChatKind distinguishes one-to-one chats from groups.
type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
)

// Chat represents a persisted conversation.
// Direct chats are keyed "dm:{minUsername}:{maxUsername}"; each side sees them as "8:{peer}".
type Chat struct {
	ID        string
	Kind      ChatKind
	Topic     string
	CreatedAt time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        int64
	ClientID  string
	ChatID    string
	UserID    int64
	Sender    string
	Body      string
	CreatedAt time.Time
	EditedAt  *time.Time
}

// Event is one entry of a user's event log. Payload is the already rendered
// resource for that user.
type Event struct {
	Seq       int64
	UserID    int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// UserStore handles account persistence.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash, displayName string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	UpdateProfile(ctx context.Context, userID int64, presence, displayName, mood string) error
	// RecordLoginFailure increments the consecutive failure counter and returns the new value.
	RecordLoginFailure(ctx context.Context, userID int64) (int, error)
	ResetLoginFailures(ctx context.Context, userID int64) error
	RevokeToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// ChatStore handles chats and their membership.
type ChatStore interface {
	CreateChat(ctx context.Context, id string, kind ChatKind, topic string, memberIDs []int64) (*Chat, error)
	GetChat(ctx context.Context, id string) (*Chat, error)
	SetTopic(ctx context.Context, chatID, topic string) error
	// AddMember reports whether the user was newly added.
	AddMember(ctx context.Context, chatID string, userID int64) (bool, error)
	// RemoveMember reports whether the user was a member.
	RemoveMember(ctx context.Context, chatID string, userID int64) (bool, error)
	IsMember(ctx context.Context, chatID string, userID int64) (bool, error)
	ListMembers(ctx context.Context, chatID string) ([]*User, error)
	// ListPeers returns the IDs of every user sharing at least one chat with userID.
	ListPeers(ctx context.Context, userID int64) ([]int64, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *Message) error
	GetMessage(ctx context.Context, chatID string, id int64) (*Message, error)
	EditMessage(ctx context.Context, chatID string, id int64, body string, editedAt time.Time) error
	ListMessages(ctx context.Context, chatID string, limit int) ([]*Message, error)
}

// EventStore handles the per-user event logs read by long polls.
type EventStore interface {
	// AppendEvents writes the events in one transaction and fills in Seq and CreatedAt.
	AppendEvents(ctx context.Context, events []*Event) error
	ListEvents(ctx context.Context, userID, afterSeq int64, limit int) ([]*Event, error)
	HeadSeq(ctx context.Context, userID int64) (int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	ChatStore
	MessageStore
	EventStore
	Close() error
}
