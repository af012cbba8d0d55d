package proto

import "encoding/json"

const (
	ProtocolVersion = 1

	EventTypeMessage     = "message"
	EventTypeMessageEdit = "message_edit"
	EventTypePresence    = "presence"
	EventTypeProfile     = "profile"
	EventTypeMembership  = "membership"
	EventTypeTopic       = "topic"
)

// RawEvent is one entry of a poll response. Resource is decoded according to Type.
type RawEvent struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Time     int64           `json:"time,omitempty"`
	Resource json.RawMessage `json:"resource"`
}

// PollResponse is the body of a long-poll call.
type PollResponse struct {
	Cursor string     `json:"cursor"`
	Events []RawEvent `json:"events"`
}

// SubscribeResponse is returned by the endpoint handshake.
type SubscribeResponse struct {
	Cursor   string `json:"cursor"`
	Protocol int    `json:"protocol,omitempty"`
}

// LoginRequest carries the account credentials. Captcha answers a
// captcha_required challenge.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	Captcha  string `json:"captcha,omitempty"`
}

// RegisterRequest creates an account on the emulator.
type RegisterRequest struct {
	Username    string `json:"username" binding:"required,min=3,max=32"`
	Password    string `json:"password" binding:"required,min=6"`
	DisplayName string `json:"display_name,omitempty"`
}

// AuthResponse carries the session token.
type AuthResponse struct {
	Token string `json:"token"`
}

// MessageResource is a chat message.
type MessageResource struct {
	ID       string `json:"id"`
	ClientID string `json:"client_id,omitempty"`
	ChatID   string `json:"chat_id"`
	Sender   string `json:"sender"`
	Body     string `json:"body"`
	TS       int64  `json:"ts"`
	EditedTS int64  `json:"edited_ts,omitempty"`
}

// PresenceResource reports a contact's availability.
type PresenceResource struct {
	Username string `json:"username"`
	Presence string `json:"presence"`
}

// ProfileResource reports a contact's display metadata.
type ProfileResource struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Mood        string `json:"mood,omitempty"`
}

// MembershipResource reports a member joining or leaving a chat.
type MembershipResource struct {
	ChatID   string `json:"chat_id"`
	Username string `json:"username"`
	Joined   bool   `json:"joined"`
}

// TopicResource reports a group topic change.
type TopicResource struct {
	ChatID string `json:"chat_id"`
	Topic  string `json:"topic"`
	By     string `json:"by,omitempty"`
}

// Chat is the full chat payload.
type Chat struct {
	ID       string            `json:"id"`
	Topic    string            `json:"topic,omitempty"`
	Members  []string          `json:"members"`
	Messages []MessageResource `json:"messages"`
}

// Contact is the full contact payload.
type Contact struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Mood        string `json:"mood,omitempty"`
	Presence    string `json:"presence"`
}

// CreateChatRequest asks the service for a new group chat.
type CreateChatRequest struct {
	Members []string `json:"members" binding:"required,min=1"`
	Topic   string   `json:"topic,omitempty"`
}

// SendMessageRequest posts a message to a chat.
type SendMessageRequest struct {
	Body     string `json:"body" binding:"required"`
	ClientID string `json:"client_id,omitempty"`
}

// EditMessageRequest changes a message body.
type EditMessageRequest struct {
	Body string `json:"body" binding:"required"`
}

// SetTopicRequest changes a group topic.
type SetTopicRequest struct {
	Topic string `json:"topic"`
}

// SetPresenceRequest changes the caller's presence and profile.
type SetPresenceRequest struct {
	Presence    string `json:"presence,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Mood        string `json:"mood,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"error"`
}
